package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func zipNames(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string)
	for _, entry := range zr.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[entry.Name] = string(data)
	}
	return out
}

func makeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestEnsureWAVEmbeddedRebuildsArchive(t *testing.T) {
	folder := t.TempDir()
	wavPath := filepath.Join(folder, "Song_A.wav")
	require.NoError(t, os.WriteFile(wavPath, []byte("wav-bytes"), 0644))
	makeZip(t, filepath.Join(folder, "Song_A_stems.zip"), map[string]string{
		"kick.wav":  "kick",
		"snare.wav": "snare",
	})

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	require.NoError(t, err)
	assert.True(t, ok)

	contents := zipNames(t, filepath.Join(folder, "Song_A_stems.zip"))
	assert.Equal(t, "kick", contents["kick.wav"])
	assert.Equal(t, "snare", contents["snare.wav"])
	assert.Equal(t, "wav-bytes", contents["Song_A.wav"])

	_, err = os.Stat(filepath.Join(folder, "Song_A"+TempDirSuffix))
	assert.True(t, os.IsNotExist(err), "temp extraction dir must be removed")
	_, err = os.Stat(filepath.Join(folder, "Song_A_stems.zip.partial"))
	assert.True(t, os.IsNotExist(err), "partial zip must be removed")
}

func TestEnsureWAVEmbeddedRebuildsFromTarGz(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_B.wav"), []byte("wav"), 0644))
	makeTarGz(t, filepath.Join(folder, "Song_B_stems.tar.gz"), map[string]string{
		"hats.wav": "hats",
	})

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_B")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(folder, "Song_B_stems.tar.gz"))
	assert.True(t, os.IsNotExist(err), "original archive must be replaced")

	contents := zipNames(t, filepath.Join(folder, "Song_B_stems.zip"))
	assert.Equal(t, "hats", contents["hats.wav"])
	assert.Equal(t, "wav", contents["Song_B.wav"])
}

func TestEnsureWAVEmbeddedAlreadyEmbedded(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A.wav"), []byte("wav"), 0644))
	archive := filepath.Join(folder, "Song_A_stems.zip")
	makeZip(t, archive, map[string]string{
		"Song_A.wav": "already here",
		"kick.wav":   "kick",
	})
	before, err := os.ReadFile(archive)
	require.NoError(t, err)

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.Equal(t, before, after, "already-normalized archive must not be rewritten")
}

func TestRefreshWAVReplacesStaleCopy(t *testing.T) {
	folder := t.TempDir()
	archive := filepath.Join(folder, "Song_A_stems.zip")
	makeZip(t, archive, map[string]string{
		"Song_A.wav": "stale bytes",
		"kick.wav":   "kick",
	})
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A.wav"), []byte("fresh bytes"), 0644))

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.RefreshWAV(context.Background(), folder, "Song_A")
	require.NoError(t, err)
	assert.True(t, ok)

	contents := zipNames(t, archive)
	assert.Equal(t, "fresh bytes", contents["Song_A.wav"])
	assert.Equal(t, "kick", contents["kick.wav"])
}

func TestEnsureWAVEmbeddedKeepsOriginalOnFailure(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A.wav"), []byte("wav"), 0644))
	archive := filepath.Join(folder, "Song_A_stems.zip")
	garbage := []byte("this is not a zip file at all")
	require.NoError(t, os.WriteFile(archive, garbage, 0644))

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	assert.False(t, ok)
	assert.Error(t, err)

	after, readErr := os.ReadFile(archive)
	require.NoError(t, readErr)
	assert.Equal(t, garbage, after, "failed normalization must leave the original byte-identical")
}

func TestEnsureWAVEmbeddedNothingToDo(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A.wav"), []byte("wav"), 0644))

	n := NewNormalizer(DefaultRegistry(), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureWAVEmbeddedMissingWAV(t *testing.T) {
	folder := t.TempDir()
	makeZip(t, filepath.Join(folder, "Song_A_stems.zip"), map[string]string{"kick.wav": "kick"})

	n := NewNormalizer(DefaultRegistry(), testLogger())
	_, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	assert.Error(t, err)
}

func TestEnsureWAVEmbeddedUnsupportedCapability(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A.wav"), []byte("wav"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_A_stems.rar"), []byte("Rar!"), 0644))

	// registry built without rar support
	n := NewNormalizer(NewRegistry(&zipExtractor{}), testLogger())
	ok, err := n.EnsureWAVEmbedded(context.Background(), folder, "Song_A")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestVerifyWAVInside(t *testing.T) {
	folder := t.TempDir()
	n := NewNormalizer(DefaultRegistry(), testLogger())
	ctx := context.Background()

	t.Run("embedded", func(t *testing.T) {
		path := filepath.Join(folder, "good_stems.zip")
		makeZip(t, path, map[string]string{"Song.wav": "x", "kick.wav": "y"})
		assert.NoError(t, n.VerifyWAVInside(ctx, path, "Song.wav"))
	})

	t.Run("embedded in subdirectory", func(t *testing.T) {
		path := filepath.Join(folder, "nested_stems.zip")
		makeZip(t, path, map[string]string{"stems/Song.wav": "x"})
		assert.NoError(t, n.VerifyWAVInside(ctx, path, "Song.wav"))
	})

	t.Run("missing wav", func(t *testing.T) {
		path := filepath.Join(folder, "missing_stems.zip")
		makeZip(t, path, map[string]string{"kick.wav": "y"})
		assert.ErrorIs(t, n.VerifyWAVInside(ctx, path, "Song.wav"), ErrWAVNotEmbedded)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		path := filepath.Join(folder, "corrupt_stems.zip")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))
		assert.ErrorIs(t, n.VerifyWAVInside(ctx, path, "Song.wav"), ErrArchiveCorrupt)
	})

	t.Run("non-zip archive", func(t *testing.T) {
		path := filepath.Join(folder, "targz_stems.tar.gz")
		makeTarGz(t, path, map[string]string{"Song.wav": "x"})
		assert.NoError(t, n.VerifyWAVInside(ctx, path, "Song.wav"))
	})
}

func TestRegistryFor(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name      string
		filename  string
		supported bool
	}{
		{name: "zip", filename: "stems.zip", supported: true},
		{name: "rar", filename: "stems.rar", supported: true},
		{name: "seven zip", filename: "stems.7z", supported: true},
		{name: "tar gz", filename: "stems.tar.gz", supported: true},
		{name: "bare gz", filename: "stems.gz", supported: true},
		{name: "xz", filename: "stems.xz", supported: true},
		{name: "unknown", filename: "stems.wim", supported: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.For(tt.filename)
			if tt.supported {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
			}
			assert.Equal(t, tt.supported, r.Supported(tt.filename))
		})
	}
}

func TestRegistryForPrefersLongestSuffix(t *testing.T) {
	r := DefaultRegistry()

	ex, err := r.For("stems.tar.gz")
	require.NoError(t, err)
	assert.Contains(t, ex.Extensions(), ".tar.gz")
	assert.NotContains(t, ex.Extensions(), ".gz")
}

func TestSplitArchiveSuffix(t *testing.T) {
	tests := []struct {
		filename string
		stem     string
		suffix   string
	}{
		{filename: "Song_stems.tar.gz", stem: "Song_stems", suffix: ".tar.gz"},
		{filename: "Song_stems.ZIP", stem: "Song_stems", suffix: ".ZIP"},
		{filename: "Song_stems.7z", stem: "Song_stems", suffix: ".7z"},
		{filename: "notes.txt", stem: "notes.txt", suffix: ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			stem, suffix := SplitArchiveSuffix(tt.filename)
			assert.Equal(t, tt.stem, stem)
			assert.Equal(t, tt.suffix, suffix)
		})
	}
}

func TestZipExtractorRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	makeZip(t, archive, map[string]string{"../escape.txt": "bad"})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	err := (&zipExtractor{}).Extract(context.Background(), archive, dest)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr), "entry must not escape the destination")
}

func TestFindStemsArchive(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song.wav"), []byte("w"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_stems.zip.partial"), []byte("p"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "Song_stems_temp"), 0755))

	_, found := FindStemsArchive(folder)
	assert.False(t, found, "partial files and temp dirs are not archives")

	require.NoError(t, os.WriteFile(filepath.Join(folder, "Song_stems.rar"), []byte("r"), 0644))
	path, found := FindStemsArchive(folder)
	assert.True(t, found)
	assert.Equal(t, filepath.Join(folder, "Song_stems.rar"), path)
}
