package functions

import (
	"fmt"
	"regexp"
	"strings"

	"wordflow/mapreduce/types"
)

// Mode selects what counts as a word character for the tokenizer.
type Mode uint8

const (
	// ASCII matches the classic `\W+` split: word characters are [0-9A-Za-z_].
	ASCII Mode = iota
	// Unicode treats any letter, mark, decimal digit or connector punctuation
	// as a word character.
	Unicode
)

var (
	asciiDelimiters   = regexp.MustCompile(`\W+`)
	unicodeDelimiters = regexp.MustCompile(`[^\p{L}\p{M}\p{Nd}\p{Pc}]+`)
)

func (m Mode) String() string {
	switch m {
	case ASCII:
		return "ascii"
	case Unicode:
		return "unicode"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "ascii", "":
		return ASCII, nil
	case "unicode":
		return Unicode, nil
	}
	return ASCII, fmt.Errorf("unknown tokenizer mode %q", s)
}

// Split splits line on runs of non-word characters. Leading or trailing
// delimiters yield empty tokens at the ends, they are left for NonEmpty.
func Split(line string, mode Mode) []string {
	if mode == Unicode {
		return unicodeDelimiters.Split(line, -1)
	}
	return asciiDelimiters.Split(line, -1)
}

// Tokenizer returns a flat-map function emitting the tokens of a line.
func Tokenizer(mode Mode) func(line string, emit func(string)) {
	return func(line string, emit func(string)) {
		for _, token := range Split(line, mode) {
			emit(token)
		}
	}
}

// NonEmpty keeps tokens with at least one byte.
func NonEmpty(token string) bool {
	return len(token) > 0
}

// ToCountPair lowercases the token and pairs it with a count of one.
func ToCountPair(token string) types.CountPair {
	return types.CountPair{Key: strings.ToLower(token), Count: 1}
}
