// Package sink provides the file a stream session writes encoded audio to.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alkime/mp3rec/internal/format"
)

// Perm is the permission new recordings are created with.
const Perm os.FileMode = 0o600

// Sink is an open output file.
type Sink interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
	Close() error
	Path() string
}

// Opener opens a sink for a path. Open is the default.
type Opener func(path string, flags format.Flags) (Sink, error)

// File is a Sink backed by an os.File.
type File struct {
	f    *os.File
	path string
}

// Open opens path according to flags.
//
// With FlagWrite the file is created when missing. It is truncated unless
// FlagAppend or FlagOverwrite is also set, in which case it is opened for
// reading and writing as is. FlagAppend positions the file at its end.
func Open(path string, flags format.Flags) (*File, error) {
	if path == "" {
		return nil, errors.New("sink path cannot be empty")
	}

	f, err := os.OpenFile(path, osFlags(flags), Perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if flags.Has(format.FlagWrite | format.FlagAppend) {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek to end of %s: %w", path, err)
		}
	}

	return &File{f: f, path: path}, nil
}

// OpenSink adapts Open to an Opener.
func OpenSink(path string, flags format.Flags) (Sink, error) {
	s, err := Open(path, flags)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func osFlags(flags format.Flags) int {
	if !flags.Has(format.FlagWrite) {
		return os.O_RDONLY
	}

	if flags.Has(format.FlagAppend) || flags.Has(format.FlagOverwrite) {
		return os.O_RDWR | os.O_CREATE
	}

	if flags.Has(format.FlagRead) {
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}

	return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
}

func (s *File) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *File) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

// Truncate cuts the file to size bytes and moves the write position there.
func (s *File) Truncate(size int64) error {
	if err := s.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", s.path, err)
	}

	if _, err := s.f.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", s.path, err)
	}

	return nil
}

func (s *File) Close() error {
	return s.f.Close()
}

func (s *File) Path() string {
	return s.path
}
