package watchlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()

	mapping := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(mapping, []byte("hostnames:\n  - a.com\n  - b.com\n"), 0o644))
	got, err := LoadFile(mapping)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, got)

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- c.com\n"), 0o644))
	got, err = LoadFile(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.com"}, got)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("hostnames: {nested: true}\n"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, WriteFile(path, []string{"a.com"}))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com"}, got)
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
	svc, _ := newTestService(t)
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, WriteFile(path, []string{"a.com"}))

	src, err := NewFileSource(path, svc, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	require.Eventually(t, func() bool {
		return svc.Contains("a.com")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, WriteFile(path, []string{"b.com", "c.com"}))

	require.Eventually(t, func() bool {
		got := svc.Get()
		return len(got) == 2 && got[0] == "b.com" && got[1] == "c.com"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileSource_AppliesNothingBeforeRun(t *testing.T) {
	svc, _ := newTestService(t, "keep.com")
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, WriteFile(path, []string{"a.com"}))

	src, err := NewFileSource(path, svc, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, []string{"keep.com"}, svc.Get())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	require.Eventually(t, func() bool {
		got := svc.Get()
		return len(got) == 1 && got[0] == "a.com"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileSource_MissingFile(t *testing.T) {
	svc, _ := newTestService(t, "keep.com")
	path := filepath.Join(t.TempDir(), "absent.yaml")

	src, err := NewFileSource(path, svc, 0, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Reload(context.Background()))
	assert.Equal(t, []string{"keep.com"}, svc.Get())
}
