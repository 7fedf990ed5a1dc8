package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steppingClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestStore(t *testing.T, max int) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, max, WithClock(steppingClock(time.Date(2026, 2, 2, 12, 0, 0, 0, time.Local))))
	require.NoError(t, err)
	return s, dir
}

func TestStore_AddKeepsNewestFirstWithinCap(t *testing.T) {
	s, dir := newTestStore(t, 3)

	for i := 1; i <= 5; i++ {
		_, err := s.Add("qp_cat_abc123", fmt.Sprintf("prompt %d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(s.List("qp_cat_abc123")), 3)
	}

	list := s.List("qp_cat_abc123")
	require.Len(t, list, 3)
	assert.Equal(t, "prompt 5", list[0].SystemPrompt)
	assert.Equal(t, "prompt 3", list[2].SystemPrompt)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].BackedUpAt.After(list[i].BackedUpAt), "backups must be sorted descending")
	}

	files, err := os.ReadDir(filepath.Join(dir, "qp_cat_abc123"))
	require.NoError(t, err)
	assert.Len(t, files, 3, "trimmed versions must be deleted from disk")
}

func TestStore_FilenameFormat(t *testing.T) {
	s, dir := newTestStore(t, 5)
	b, err := s.Add("qp_x", "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, b.Version)
	want := "v001_20260202_120001.txt"
	data, err := os.ReadFile(filepath.Join(dir, "qp_x", want))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStore_ReloadIgnoresNonConformingFiles(t *testing.T) {
	s, dir := newTestStore(t, 5)
	_, err := s.Add("qp_dog", "first")
	require.NoError(t, err)
	_, err = s.Add("qp_dog", "second")
	require.NoError(t, err)

	personaDir := filepath.Join(dir, "qp_dog")
	require.NoError(t, os.WriteFile(filepath.Join(personaDir, "notes.txt"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(personaDir, "v003_2026.txt"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(personaDir, "v004_20261399_999999.txt"), []byte("junk"), 0o644))

	reloaded, err := NewStore(dir, 5)
	require.NoError(t, err)
	list := reloaded.List("qp_dog")
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].SystemPrompt)
	assert.Equal(t, "first", list[1].SystemPrompt)
}

func TestNewStore_TrimsExcessVersionsOnLoad(t *testing.T) {
	dir := t.TempDir()
	personaDir := filepath.Join(dir, "qp_owl")
	require.NoError(t, os.MkdirAll(personaDir, 0o755))
	start := time.Date(2026, 2, 2, 12, 0, 0, 0, time.Local)
	for v := 1; v <= 7; v++ {
		name := formatFilename(v, start.Add(time.Duration(v)*time.Minute))
		require.NoError(t, os.WriteFile(filepath.Join(personaDir, name), []byte(fmt.Sprintf("prompt %d", v)), 0o644))
	}

	s, err := NewStore(dir, 5)
	require.NoError(t, err)
	list := s.List("qp_owl")
	require.Len(t, list, 5)
	assert.Equal(t, "prompt 7", list[0].SystemPrompt)
	assert.Equal(t, "prompt 3", list[4].SystemPrompt)

	files, err := os.ReadDir(personaDir)
	require.NoError(t, err)
	assert.Len(t, files, 5, "leftover versions must be removed on load")
}

func TestStore_SameSecondUsesVersionTiebreak(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 2, 2, 12, 0, 0, 0, time.Local)
	s, err := NewStore(dir, 5, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	_, _ = s.Add("p", "a")
	_, _ = s.Add("p", "b")
	latest, ok := s.Latest("p")
	require.True(t, ok)
	assert.Equal(t, "b", latest.SystemPrompt)
	assert.Equal(t, 2, latest.Version)
}

func TestStore_PopLatest(t *testing.T) {
	s, dir := newTestStore(t, 5)
	_, _ = s.Add("p", "old")
	newest, _ := s.Add("p", "new")

	popped, err := s.PopLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "new", popped.SystemPrompt)
	_, err = os.Stat(filepath.Join(dir, "p", newest.file))
	assert.True(t, os.IsNotExist(err))

	latest, ok := s.Latest("p")
	require.True(t, ok)
	assert.Equal(t, "old", latest.SystemPrompt)

	_, err = s.PopLatest("p")
	require.NoError(t, err)
	_, err = s.PopLatest("p")
	assert.True(t, errors.Is(err, ErrNoBackup))
}

func TestStore_VersionNumbersNotReusedAfterPop(t *testing.T) {
	s, _ := newTestStore(t, 5)
	_, _ = s.Add("p", "one")
	_, _ = s.Add("p", "two")
	_, _ = s.PopLatest("p")
	b, err := s.Add("p", "three")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Version)
}

func TestStore_SanitizedIDsAndDelete(t *testing.T) {
	s, dir := newTestStore(t, 5)
	_, err := s.Add(`a/b:c?`, "x")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "a_b_c_"))
	require.NoError(t, err)
	assert.Len(t, s.List(`a/b:c?`), 1)

	require.NoError(t, s.DeletePersona(`a/b:c?`))
	assert.Empty(t, s.List(`a/b:c?`))
	_, err = os.Stat(filepath.Join(dir, "a_b_c_"))
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "qp_猫娘_abc123", SanitizeID("qp_猫娘_abc123"))
	assert.Equal(t, "x_y_z_w_", SanitizeID(`x<y>z|w*`))
}

func TestNewStore_DefaultMax(t *testing.T) {
	s, err := NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxVersions, s.MaxVersions())
}
