package delivery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesForVariant resolves the folder files a variant's digital_files types
// entitle a buyer to, as absolute paths. The configured file_patterns are
// tried first (exact, then lowercased); only when every configured pattern
// comes up empty does the fallback cascade run, and the first pattern that
// matches anything wins outright.
func FilesForVariant(folder string, fileTypes []string, patterns map[string]string) []string {
	var files []string
	for _, fileType := range fileTypes {
		pattern := patterns[fileType]
		if pattern == "" {
			continue
		}
		matches := matchPattern(folder, pattern)
		if len(matches) == 0 {
			matches = matchPattern(folder, strings.ToLower(pattern))
		}
		files = append(files, matches...)
	}
	if len(files) > 0 {
		return files
	}

	for _, fileType := range fileTypes {
		for _, pattern := range fallbackPatterns(fileType, patterns[fileType]) {
			if matches := matchPattern(folder, pattern); len(matches) > 0 {
				return matches
			}
		}
	}
	return nil
}

// fallbackPatterns builds the cascade for one logical file type. Stems get
// archive-specific patterns before the generic extension ones so a folder
// holding both a stems archive and an unrelated zip resolves to the stems.
func fallbackPatterns(fileType, configured string) []string {
	if configured == "" {
		configured = "*" + fileType + "*"
	}

	patterns := []string{
		configured,
		strings.ToLower(configured),
		"*." + fileType,
		"*_" + fileType + ".*",
		"*_" + strings.ToUpper(fileType) + ".*",
		"*_" + strings.ToLower(fileType) + ".*",
	}
	switch strings.ToLower(fileType) {
	case "stems", "stem":
		patterns = append(patterns, "*stems*.zip", "*stems*.rar", "*.zip", "*.rar")
	}

	seen := make(map[string]bool, len(patterns))
	deduped := patterns[:0]
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		deduped = append(deduped, p)
	}
	return deduped
}

// matchPattern matches base names so folder paths containing glob
// metacharacters (sanitized titles keep brackets) cannot break the match.
func matchPattern(folder, pattern string) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil || !ok {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		matches = append(matches, path)
	}
	sort.Strings(matches)
	return matches
}
