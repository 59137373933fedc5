// Package resume resolves a caller's resume reference to plain text.
package resume

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

// Source loads resume text by reference. Unknown references return an
// apperr.ErrValidation error so submissions fail before a job is created.
type Source interface {
	Load(ctx context.Context, ref string) (string, error)
}

var allowedExtensions = map[string]bool{".txt": true, ".md": true}

// DirSource reads plain-text resumes from a directory.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrapf(err, "resolve resume dir %s", root)
	}
	return &DirSource{root: abs}, nil
}

func (s *DirSource) Load(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.Validation("resume_ref %q not found", ref)
		}
		return "", apperr.Wrapf(err, "read resume %s", ref)
	}
	if !utf8.Valid(data) {
		return "", apperr.Validation("resume_ref %q is not UTF-8 text", ref)
	}
	return string(data), nil
}

func (s *DirSource) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperr.Validation("resume_ref is required")
	}
	if filepath.IsAbs(ref) {
		return "", apperr.Validation("resume_ref must be relative")
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(ref))] {
		return "", apperr.Validation("resume_ref %q must be a .txt or .md file", ref)
	}
	path := filepath.Join(s.root, filepath.Clean(ref))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.Validation("resume_ref %q escapes the resume directory", ref)
	}
	return path, nil
}

// MemorySource serves resumes registered in process. The CLI and tests use it.
type MemorySource struct {
	mu      sync.RWMutex
	resumes map[string]string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{resumes: make(map[string]string)}
}

func (s *MemorySource) Put(ref, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes[ref] = text
}

func (s *MemorySource) Load(_ context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperr.Validation("resume_ref is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.resumes[ref]
	if !ok {
		return "", apperr.Validation("resume_ref %q not found", ref)
	}
	return text, nil
}
