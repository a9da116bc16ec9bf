// Package source reads a text file as a lazy sequence of lines.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"
)

var (
	errNotLocalFile = errors.New("only local file:// URIs are supported")
	errIsDirectory  = errors.New("is a directory")
)

// IOError reports a missing or unreadable input file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DecodeError reports a line that is not valid UTF-8.
type DecodeError struct {
	Path string
	// Line is 1-based.
	Line int
	// Offset is the byte offset of the first invalid sequence within the line.
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: invalid UTF-8 at line %d, byte %d", e.Path, e.Line, e.Offset)
}

// ResolvePath turns a plain path or a file:// URI into a local path.
func ResolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "file:") {
		return path, nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", &IOError{Path: path, Err: errNotLocalFile}
	}
	if u.Path == "" {
		// file:relative/path
		return u.Opaque, nil
	}
	return u.Path, nil
}

// Reader yields the lines of one file. It is not restartable, open a new
// Reader to read the file again.
type Reader struct {
	path string
	file *os.File
	buf  *bufio.Reader
	line int
}

// Open opens path for reading.
func Open(path string) (*Reader, error) {
	local, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(local)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &IOError{Path: path, Err: err}
	}
	if fi.IsDir() {
		file.Close()
		return nil, &IOError{Path: path, Err: errIsDirectory}
	}
	adviseSequential(file)
	return &Reader{
		path: path,
		file: file,
		buf:  bufio.NewReaderSize(file, 64*1024),
	}, nil
}

// Next returns the next line without its terminator. It returns io.EOF after
// the last line.
func (r *Reader) Next() (string, error) {
	line, err := r.buf.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			return "", &IOError{Path: r.path, Err: err}
		}
		if len(line) == 0 {
			return "", io.EOF
		}
	}
	r.line++
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if !utf8.ValidString(line) {
		return "", &DecodeError{Path: r.path, Line: r.line, Offset: invalidOffset(line)}
	}
	return line, nil
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadLines calls fn for every line of path in file order. The file is closed
// before ReadLines returns, whatever the outcome.
func ReadLines(ctx context.Context, path string, fn func(line string) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

func invalidOffset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
