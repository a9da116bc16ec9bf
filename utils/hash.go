package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// HashReader returns the MD5 hash of the given reader.
func HashReader(r io.Reader) (string, error) {
	h := md5.New()
	_, err := io.Copy(h, r)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the MD5 hash of the file content, used to tell whether
// an input changed between two runs.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}
