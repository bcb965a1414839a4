package delivery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, folder string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(folder, name), []byte("x"), 0o644))
	}
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

var testPatterns = map[string]string{
	"mp3":   "*.mp3",
	"wav":   "*.wav",
	"stems": "*_stems.zip",
}

func TestFilesForVariantConfiguredPatterns(t *testing.T) {
	folder := t.TempDir()
	touch(t, folder, "Song.mp3", "Song.wav", "Song_stems.zip", "Song_artwork.jpg")

	files := FilesForVariant(folder, []string{"mp3", "wav", "stems"}, testPatterns)
	assert.ElementsMatch(t, []string{"Song.mp3", "Song.wav", "Song_stems.zip"}, baseNames(files))

	for _, f := range files {
		assert.True(t, filepath.IsAbs(f), "path %s should be absolute", f)
	}
}

func TestFilesForVariantSubset(t *testing.T) {
	folder := t.TempDir()
	touch(t, folder, "Song.mp3", "Song.wav", "Song_stems.zip")

	files := FilesForVariant(folder, []string{"mp3"}, testPatterns)
	assert.Equal(t, []string{"Song.mp3"}, baseNames(files))
}

func TestFilesForVariantLowercaseFallback(t *testing.T) {
	folder := t.TempDir()
	touch(t, folder, "Song_stems.zip")

	patterns := map[string]string{"stems": "*_STEMS.zip"}
	files := FilesForVariant(folder, []string{"stems"}, patterns)
	assert.Equal(t, []string{"Song_stems.zip"}, baseNames(files))
}

func TestFilesForVariantStemsCascadePrefersStemsArchive(t *testing.T) {
	folder := t.TempDir()
	// rar instead of the configured zip, plus an unrelated archive
	touch(t, folder, "Song stems.rar", "samples.zip")

	files := FilesForVariant(folder, []string{"stems"}, testPatterns)
	assert.Equal(t, []string{"Song stems.rar"}, baseNames(files))
}

func TestFilesForVariantGenericArchiveLastResort(t *testing.T) {
	folder := t.TempDir()
	touch(t, folder, "bundle.rar")

	files := FilesForVariant(folder, []string{"stems"}, testPatterns)
	assert.Equal(t, []string{"bundle.rar"}, baseNames(files))
}

func TestFilesForVariantNothingMatches(t *testing.T) {
	folder := t.TempDir()
	touch(t, folder, "notes.txt")

	assert.Empty(t, FilesForVariant(folder, []string{"mp3", "stems"}, testPatterns))
}

func TestFilesForVariantMissingFolder(t *testing.T) {
	assert.Empty(t, FilesForVariant("/nonexistent/folder", []string{"mp3"}, testPatterns))
}

func TestFallbackPatternsStemsOrder(t *testing.T) {
	patterns := fallbackPatterns("stems", "*_stems.zip")

	zipIdx, rarIdx, genericZipIdx := -1, -1, -1
	for i, p := range patterns {
		switch p {
		case "*stems*.zip":
			zipIdx = i
		case "*stems*.rar":
			rarIdx = i
		case "*.zip":
			genericZipIdx = i
		}
	}
	require.NotEqual(t, -1, zipIdx)
	require.NotEqual(t, -1, rarIdx)
	require.NotEqual(t, -1, genericZipIdx)
	assert.Less(t, zipIdx, genericZipIdx, "stems-specific patterns must come before generic archives")
	assert.Less(t, rarIdx, genericZipIdx)
}

func TestFallbackPatternsDeduplicates(t *testing.T) {
	patterns := fallbackPatterns("mp3", "*.mp3")

	seen := map[string]int{}
	for _, p := range patterns {
		seen[p]++
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "pattern %q appears %d times", p, n)
	}
}

func TestMatchPatternBracketedFolder(t *testing.T) {
	// sanitized titles keep brackets, which are glob metacharacters
	folder := filepath.Join(t.TempDir(), "Beat [Remix]")
	require.NoError(t, os.Mkdir(folder, 0o755))
	touch(t, folder, "Beat [Remix].mp3")

	files := matchPattern(folder, "*.mp3")
	require.Len(t, files, 1)
	assert.Equal(t, "Beat [Remix].mp3", filepath.Base(files[0]))
}

func TestMatchPatternSkipsDirectories(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(folder, "nested.mp3"), 0o755))
	touch(t, folder, "real.mp3")

	files := matchPattern(folder, "*.mp3")
	assert.Equal(t, []string{"real.mp3"}, baseNames(files))
}

func TestNumericProductID(t *testing.T) {
	assert.Equal(t, "123456", numericProductID("gid://shopify/Product/123456"))
	assert.Equal(t, "123456", numericProductID("123456"))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("your files are uploading", uploadingWords))
	assert.True(t, containsAny("téléchargement en cours", uploadingWords))
	assert.False(t, containsAny("all done", uploadingWords))
}
