// Package blob stores resource content on the filesystem, keyed by the
// owner's storage directory and the resource UUID. Client-supplied names
// never reach the filesystem, so crafted path segments cannot escape the
// store's home directory.
package blob

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ChunkSize bounds the buffer used for streamed reads and writes.
const ChunkSize = 32768

// Object identifies a stored byte stream. OwnerDir scopes the object to a
// principal ("shared" for unowned resources); Size bounds reads.
type Object struct {
	OwnerDir string
	UUID     string
	Size     int64
}

// Store is a filesystem content store rooted at a home directory.
type Store struct {
	home   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a content store rooted at home.
func New(home string, opts ...Option) *Store {
	s := &Store{
		home:   home,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(obj Object) string {
	return filepath.Join(s.home, obj.OwnerDir, obj.UUID)
}

// Store writes up to obj.Size bytes from r into the object's backing file,
// creating the owner directory as needed. A short source stops the write
// early without error; callers that care about truncation compare the
// returned byte count against obj.Size.
func (s *Store) Store(r io.Reader, obj Object) (int64, error) {
	dir := filepath.Join(s.home, obj.OwnerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating storage dir: %w", err)
	}

	f, err := os.Create(s.path(obj))
	if err != nil {
		return 0, fmt.Errorf("creating object file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(r, obj.Size))
	if err != nil {
		return written, fmt.Errorf("writing object: %w", err)
	}
	if written < obj.Size {
		s.logger.Warn("short content write",
			"uuid", obj.UUID,
			"expected", obj.Size,
			"written", written)
	}
	return written, nil
}

// StoreBytes writes a complete buffer directly, used for generated calendar
// documents where the content is already in memory.
func (s *Store) StoreBytes(data []byte, obj Object) error {
	dir := filepath.Join(s.home, obj.OwnerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}
	if err := os.WriteFile(s.path(obj), data, 0o644); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

// Retrieve opens the object for reading. The returned reader yields at most
// obj.Size bytes and must be closed by the caller.
func (s *Store) Retrieve(obj Object) (io.ReadCloser, error) {
	f, err := os.Open(s.path(obj))
	if err != nil {
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return &boundedReader{f: f, remaining: obj.Size}, nil
}

// RetrieveString reads the full object content as UTF-8 text.
func (s *Store) RetrieveString(obj Object) (string, error) {
	r, err := s.Retrieve(obj)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading object: %w", err)
	}
	return string(data), nil
}

// Delete removes the backing file. Deleting an absent object is a no-op.
func (s *Store) Delete(obj Object) error {
	err := os.Remove(s.path(obj))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Exists reports whether the object has backing content.
func (s *Store) Exists(obj Object) bool {
	_, err := os.Stat(s.path(obj))
	return err == nil
}

// boundedReader reads at most remaining bytes from the file in ChunkSize
// pieces and closes the handle when exhausted.
type boundedReader struct {
	f         *os.File
	remaining int64
	closed    bool
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		if !b.closed {
			b.closed = true
			b.f.Close()
		}
		return 0, io.EOF
	}
	limit := int64(len(p))
	if limit > ChunkSize {
		limit = ChunkSize
	}
	if limit > b.remaining {
		limit = b.remaining
	}
	n, err := b.f.Read(p[:limit])
	b.remaining -= int64(n)
	if err == io.EOF && b.remaining > 0 {
		// underlying file is shorter than the declared size
		b.remaining = 0
	}
	return n, err
}

func (b *boundedReader) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.f.Close()
}
