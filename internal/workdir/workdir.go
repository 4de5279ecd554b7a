// Package workdir resolves where recordings are written.
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyName is returned when a recording name sanitizes to nothing.
var ErrEmptyName = errors.New("recording name is empty")

// Sanitize makes a recording name safe for use as a file name. Characters
// that are invalid in file paths become hyphens.
func Sanitize(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		"\x00", "",
	)

	sanitized := replacer.Replace(name)

	// Trim leading/trailing spaces, hyphens and dots
	return strings.Trim(sanitized, " -.")
}

// FilePath returns the path of recording name inside dir. defaultExt is
// appended when the sanitized name has no extension.
func FilePath(dir, name, defaultExt string) (string, error) {
	file := Sanitize(name)
	if file == "" {
		return "", ErrEmptyName
	}

	if filepath.Ext(file) == "" && defaultExt != "" {
		file += "." + strings.TrimPrefix(defaultExt, ".")
	}

	return filepath.Join(dir, file), nil
}

// Prep ensures that dir exists.
func Prep(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory %s: %w", dir, err)
	}

	return nil
}
