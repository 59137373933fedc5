package resume

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

func TestDirSourceLoadsTextFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "team"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team", "ana.md"), []byte("# Ana\nEngineer"), 0o600))

	source, err := NewDirSource(dir)
	require.NoError(t, err)

	text, err := source.Load(context.Background(), "team/ana.md")
	require.NoError(t, err)
	assert.Equal(t, "# Ana\nEngineer", text)
}

func TestDirSourceRejectsUnsafeReferences(t *testing.T) {
	dir := t.TempDir()
	source, err := NewDirSource(dir)
	require.NoError(t, err)

	for _, ref := range []string{"", "../secrets.txt", "team/../../etc/passwd.txt", "/etc/hosts.txt", "resume.pdf", "missing.txt"} {
		_, err := source.Load(context.Background(), ref)
		require.Error(t, err, ref)
		assert.True(t, apperr.Is(err, apperr.ErrValidation), "ref %q: %v", ref, err)
	}
}

func TestDirSourceRejectsBinaryContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 0xfd}, 0o600))
	source, err := NewDirSource(dir)
	require.NoError(t, err)

	_, err = source.Load(context.Background(), "bad.txt")
	assert.True(t, apperr.Is(err, apperr.ErrValidation))
}

func TestMemorySource(t *testing.T) {
	source := NewMemorySource()
	source.Put("cv-1", "text")

	text, err := source.Load(context.Background(), " cv-1 ")
	require.NoError(t, err)
	assert.Equal(t, "text", text)

	_, err = source.Load(context.Background(), "cv-2")
	assert.True(t, apperr.Is(err, apperr.ErrValidation))
}
