package repomap

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	languageGo         = "go"
	languageJava       = "java"
	languageJavaScript = "javascript"
	languagePython     = "python"
	languageRust       = "rust"
	languageShell      = "shell"
	languageTypeScript = "typescript"
)

// LanguageSpec describes source file matching rules for a language.
type LanguageSpec struct {
	ID         string
	Extensions []string
	// AstGrepLang is the language name passed to ast-grep rules.
	AstGrepLang string
}

var builtinLanguageSpecs = map[string]LanguageSpec{
	languageGo:         {ID: languageGo, Extensions: []string{".go"}, AstGrepLang: "Go"},
	languageJava:       {ID: languageJava, Extensions: []string{".java"}, AstGrepLang: "Java"},
	languageJavaScript: {ID: languageJavaScript, Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}, AstGrepLang: "JavaScript"},
	languagePython:     {ID: languagePython, Extensions: []string{".py"}, AstGrepLang: "Python"},
	languageRust:       {ID: languageRust, Extensions: []string{".rs"}, AstGrepLang: "Rust"},
	languageShell:      {ID: languageShell, Extensions: []string{".sh", ".bash"}, AstGrepLang: "Bash"},
	languageTypeScript: {ID: languageTypeScript, Extensions: []string{".ts", ".tsx", ".mts", ".cts"}, AstGrepLang: "TypeScript"},
}

// extensionLanguage maps every known extension to its language.
var extensionLanguage = buildExtensionLanguage()

// allScannableExtensions is the union of all language extension mappings.
var allScannableExtensions = extensionSet(AllLanguages())

func buildExtensionLanguage() map[string]string {
	out := make(map[string]string)
	for id, spec := range builtinLanguageSpecs {
		for _, ext := range spec.Extensions {
			out[ext] = id
		}
	}
	return out
}

// AllLanguages returns every built-in language ID sorted lexicographically.
func AllLanguages() []string {
	ids := make([]string, 0, len(builtinLanguageSpecs))
	for id := range builtinLanguageSpecs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func canonicalLanguageID(id string) string {
	normalized := strings.ToLower(strings.TrimSpace(id))
	switch normalized {
	case "py", "python3":
		return languagePython
	case "bash", "sh":
		return languageShell
	case "ts", "tsx":
		return languageTypeScript
	case "js", "jsx", "node":
		return languageJavaScript
	case "golang":
		return languageGo
	case "rs":
		return languageRust
	default:
		return normalized
	}
}

// resolveLanguages canonicalises and de-duplicates language IDs.
func resolveLanguages(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := canonicalLanguageID(raw)
		if _, ok := builtinLanguageSpecs[id]; !ok {
			return nil, fmt.Errorf("unsupported language: %s", raw)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// languageForPath returns the language owning the file extension of path.
func languageForPath(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	id, ok := extensionLanguage[ext]
	return id, ok
}

func extensionSet(languages []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, id := range languages {
		spec, ok := builtinLanguageSpecs[id]
		if !ok {
			continue
		}
		for _, ext := range spec.Extensions {
			set[ext] = struct{}{}
		}
	}
	return set
}

func hasScannableExtension(path string, set map[string]struct{}) bool {
	_, ok := set[strings.ToLower(filepath.Ext(path))]
	return ok
}

func isTSXPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".tsx")
}

func isJSXPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".jsx")
}

func languageEnabled(languages []string, id string) bool {
	for _, lang := range languages {
		if lang == id {
			return true
		}
	}
	return false
}
