// Package fs manages per-session scratch directories under the downloads root.
package fs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrOutsideRoot is returned when asked to touch a path outside the downloads root.
	ErrOutsideRoot = errors.New("path is outside the downloads root")
	// ErrInvalidSessionID is returned for identifiers that aren't a single path element.
	ErrInvalidSessionID = errors.New("invalid session identifier")
)

// Scratch owns the downloads root and its per-session subdirectories.
type Scratch struct {
	root   string
	logger *slog.Logger
}

// NewScratch creates the downloads root if needed and returns a Scratch bound to it.
func NewScratch(root string, logger *slog.Logger) (*Scratch, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create downloads root: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve downloads root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve downloads root: %w", err)
	}

	return &Scratch{root: resolved, logger: logger}, nil
}

// Root returns the resolved downloads root.
func (s *Scratch) Root() string {
	return s.root
}

// Dir returns the scratch directory for id without creating it.
func (s *Scratch) Dir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(s.root, id), nil
}

// Ensure creates the scratch directory for id. It doesn't fail if the
// directory already exists, and it bumps the directory's mtime so the
// cleaner treats the session as active again.
func (s *Scratch) Ensure(id string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	now := time.Now()
	if err := os.Chtimes(dir, now, now); err != nil {
		return "", fmt.Errorf("failed to touch session directory: %w", err)
	}
	return dir, nil
}

// Remove recursively deletes path, which must lie strictly below the root.
// Missing paths are not an error.
func (s *Scratch) Remove(path string) error {
	resolved, err := s.within(path)
	if err != nil {
		return err
	}
	return os.RemoveAll(resolved)
}

// RemoveSession deletes the scratch directory for id.
func (s *Scratch) RemoveSession(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	return s.Remove(dir)
}

// SessionOf returns the session identifier owning path, i.e. the name of the
// root's direct child that contains it.
func (s *Scratch) SessionOf(path string) (string, error) {
	resolved, err := s.within(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", ErrOutsideRoot
	}
	return strings.Split(rel, string(filepath.Separator))[0], nil
}

// within resolves path (following symlinks in its parent chain) and checks
// that the result is a strict descendant of the root.
func (s *Scratch) within(path string) (string, error) {
	if path == "" {
		return "", ErrOutsideRoot
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	parent, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(parent, filepath.Base(abs))

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		s.logger.Warn("Refusing to remove path outside downloads root",
			"path", path,
			"root", s.root,
		)
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	head, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(head, filepath.Base(path)), nil
}
