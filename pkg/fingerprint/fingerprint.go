// Package fingerprint decides whether a local file matches a manifest entry
// by its (size, SHA-1) pair.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

const bufferSize = 64 * 1024 // 64KB buffer

// HashLength is the length of a hex encoded SHA-1 digest.
const HashLength = sha1.Size * 2

var (
	// ErrUnreadable is returned when a file exists but cannot be opened or read.
	ErrUnreadable = errors.New("file unreadable")

	// ErrIsDirectory is returned when the path to fingerprint is a directory.
	ErrIsDirectory = errors.New("path is a directory")
)

// UnreadableError carries the path and cause of a failed read.
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrUnreadable so callers can use errors.Is.
func (e *UnreadableError) Unwrap() []error { return []error{ErrUnreadable, e.Err} }

// Matches reports whether the file at localPath has expectedSize bytes and
// hashes to expectedHash. A missing file does not match and is not an error.
// An unreadable file never matches and returns an *UnreadableError.
func Matches(localPath string, expectedSize int64, expectedHash string) (bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &UnreadableError{Path: localPath, Err: err}
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s: %w", localPath, ErrIsDirectory)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return false, &UnreadableError{Path: localPath, Err: err}
	}
	defer file.Close()

	// Size short-circuit avoids hashing an obviously stale file.
	if info.Size() != expectedSize {
		return false, nil
	}

	sum, err := SHA1(file)
	if err != nil {
		return false, &UnreadableError{Path: localPath, Err: err}
	}

	return Equal(sum, expectedHash), nil
}

// FileSHA1 returns the lowercase hex SHA-1 of the file at path.
func FileSHA1(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return SHA1(file)
}

// SHA1 streams r through SHA-1 and returns the lowercase hex digest.
func SHA1(r io.Reader) (string, error) {
	h := sha1.New()
	buffer := make([]byte, bufferSize)

	if _, err := io.CopyBuffer(h, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// IsHex reports whether s looks like a hex encoded SHA-1 digest.
func IsHex(s string) bool {
	if len(s) != HashLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// TeeReader hashes and counts bytes while they are read through it.
type TeeReader struct {
	reader io.Reader
	hash   hash.Hash
	n      int64
	done   bool
}

// NewTeeReader creates a new TeeReader wrapping r.
func NewTeeReader(r io.Reader) *TeeReader {
	return &TeeReader{
		reader: r,
		hash:   sha1.New(),
	}
}

// Read implements io.Reader
func (t *TeeReader) Read(p []byte) (n int, err error) {
	n, err = t.reader.Read(p)
	if n > 0 {
		t.hash.Write(p[:n])
		t.n += int64(n)
	}
	if err == io.EOF {
		t.done = true
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (t *TeeReader) BytesRead() int64 {
	return t.n
}

// Sum returns the hex digest of everything read (only valid after EOF)
func (t *TeeReader) Sum() (string, error) {
	if !t.done {
		return "", fmt.Errorf("checksum not yet calculated (read not complete)")
	}
	return hex.EncodeToString(t.hash.Sum(nil)), nil
}
