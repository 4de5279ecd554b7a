package format

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry selects a Format by file extension.
//
// Formats are added with Register during startup and torn down together with
// Close. Lookups and opens are safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	byExt   map[string]Format
	formats []Format
	closed  bool
}

// Description lists a registered format and the extensions it claims.
type Description struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger: logger,
		byExt:  make(map[string]Format),
	}
}

// Register adds f under every extension it claims. No extension is added when
// any of them is already taken.
func (r *Registry) Register(f Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	exts := f.Extensions()
	if len(exts) == 0 {
		return fmt.Errorf("format %s declares no extensions", f.Name())
	}

	keys := make([]string, 0, len(exts))
	for _, ext := range exts {
		key := normalizeExt(ext)
		if key == "" {
			return fmt.Errorf("format %s: %w: empty extension", f.Name(), ErrInvalidPath)
		}
		if prev, ok := r.byExt[key]; ok {
			return fmt.Errorf("%w: %q claimed by %s", ErrDuplicateExtension, key, prev.Name())
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		r.byExt[key] = f
	}
	r.formats = append(r.formats, f)

	r.logger.Debug("registered file format", "format", f.Name(), "extensions", keys)

	return nil
}

// Lookup returns the format claiming ext. The extension is matched
// case-insensitively, with or without a leading dot.
func (r *Registry) Lookup(ext string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byExt[normalizeExt(ext)]
	return f, ok
}

// Open opens path with the format registered for its extension.
func (r *Registry) Open(path string, flags Flags) (Handle, error) {
	ext := Ext(path)
	if ext == "" {
		return nil, fmt.Errorf("%w: %q has no extension", ErrInvalidPath, path)
	}

	r.mu.RLock()
	closed := r.closed
	f, ok := r.byExt[ext]
	r.mu.RUnlock()

	if closed {
		return nil, ErrRegistryClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	return f.Open(path, flags)
}

// Formats describes the registered formats in registration order.
func (r *Registry) Formats() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.formats))
	for _, f := range r.formats {
		out = append(out, Description{
			Name:       f.Name(),
			Extensions: slices.Clone(f.Extensions()),
		})
	}
	return out
}

// Close tears the registry down. Formats implementing io.Closer are closed in
// reverse registration order. Subsequent opens fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.formats) - 1; i >= 0; i-- {
		c, ok := r.formats[i].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close format %s: %w", r.formats[i].Name(), err))
		}
	}

	clear(r.byExt)
	r.formats = nil

	return errors.Join(errs...)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
