// Package format defines the file format interface a recording host uses to
// write audio through a codec, and the registry that selects a codec by file
// extension.
package format

import (
	"path/filepath"
	"strings"
)

// Flags control how a handle opens its sink.
type Flags uint8

const (
	FlagRead Flags = 1 << iota
	FlagWrite
	// FlagAppend positions writes after the existing content.
	FlagAppend
	// FlagOverwrite opens an existing file without truncating it.
	FlagOverwrite
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagRead) {
		parts = append(parts, "read")
	}
	if f.Has(FlagWrite) {
		parts = append(parts, "write")
	}
	if f.Has(FlagAppend) {
		parts = append(parts, "append")
	}
	if f.Has(FlagOverwrite) {
		parts = append(parts, "overwrite")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Tag names a metadata column of a stream.
type Tag int

const (
	TagTitle Tag = iota
	TagCopyright
	TagSoftware
	TagArtist
	TagComment
	TagDate
)

// Info describes an open stream.
type Info struct {
	SampleRate  int
	Channels    int
	Bitrate     int
	FrameLength int
	Seekable    bool

	// Samples is the write position in samples per channel. Truncate
	// resets it.
	Samples int64
	// Frames is the number of frames handed to the encoder.
	Frames int64
	// Bytes is the number of encoded bytes written to the sink.
	Bytes int64
}

// Handle is an open audio stream.
type Handle interface {
	// Write consumes interleaved samples with the given channel count.
	Write(samples []int16, channels int) error
	Read(dst []int16) (int, error)
	Seek(samples int64, whence int) (int64, error)
	Truncate(offset int64) error
	GetString(tag Tag) (string, error)
	SetString(tag Tag, value string) error
	Info() Info
	// Close drains buffered audio and releases the stream. It releases
	// resources even when draining fails.
	Close() error
}

// Format opens handles for the file extensions it claims.
type Format interface {
	Name() string
	Extensions() []string
	Open(path string, flags Flags) (Handle, error)
}

// Ext returns the lower-cased extension of path without the leading dot, or
// "" when the path has none.
func Ext(path string) string {
	ext := filepath.Ext(path)
	if len(ext) <= 1 {
		return ""
	}
	return strings.ToLower(ext[1:])
}
