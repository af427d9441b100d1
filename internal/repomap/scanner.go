package repomap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultScanTimeout bounds a single AST tool invocation.
const DefaultScanTimeout = 30 * time.Second

// Scanner extracts a FileRecord from one source file.
type Scanner interface {
	// Name identifies the backend in logs and cache keys.
	Name() string
	// Languages lists the language IDs the backend can scan.
	Languages() []string
	// Scan reads basePath/relPath and returns its structural record.
	Scan(ctx context.Context, basePath, relPath string) (*FileRecord, error)
}

// ScanFile runs sc on a single file and never fails across its boundary: any
// error or panic yields nil plus one ScanError passed to report.
func ScanFile(ctx context.Context, sc Scanner, basePath, relPath string, report func(ScanError)) (rec *FileRecord) {
	fail := func(msg string) {
		rec = nil
		if report != nil {
			report(ScanError{File: relPath, Message: msg})
		}
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Sprintf("scanner panic: %v", r))
		}
	}()

	out, err := sc.Scan(ctx, basePath, relPath)
	if err != nil {
		fail(err.Error())
		return nil
	}
	if out == nil {
		fail("scanner returned no record")
		return nil
	}
	out.normalize()
	return out
}

// AstGrepScanner scans files by running ast-grep once per file with the
// inline rule set of the file's language.
type AstGrepScanner struct {
	Tool    ToolCommand
	Timeout time.Duration
}

// NewAstGrepScanner returns a scanner bound to tool.
func NewAstGrepScanner(tool ToolCommand, timeout time.Duration) *AstGrepScanner {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &AstGrepScanner{Tool: tool, Timeout: timeout}
}

func (s *AstGrepScanner) Name() string { return "ast-grep" }

func (s *AstGrepScanner) Languages() []string { return AllLanguages() }

func (s *AstGrepScanner) Scan(ctx context.Context, basePath, relPath string) (*FileRecord, error) {
	lang, ok := languageForPath(relPath)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", relPath)
	}
	astLang, _ := astGrepLanguageFor(relPath)
	rules := inlineRulesByAstLang[astLang]
	if rules == "" {
		return nil, fmt.Errorf("no ast-grep rules for language %s", lang)
	}

	absPath := filepath.Join(basePath, filepath.FromSlash(relPath))
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := s.Tool.Command(scanCtx, "scan", "--inline-rules", rules, "--json=compact", absPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("ast-grep timed out after %s", s.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ast-grep: %w", err)
		}
		return nil, fmt.Errorf("ast-grep: %w: %s", err, msg)
	}

	matches, err := parseAstGrepOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	b := newRecordBuilder(lang)
	for _, m := range matches {
		category, variant := splitRuleID(m.RuleID)
		line := m.Range.Start.Line + 1
		if category == categoryImport {
			src := cleanImportSource(m.metaText("SOURCE"))
			if src != "" {
				b.addImport(Import{Source: src, Kind: importKind(variant)})
			}
			continue
		}
		name := strings.TrimSpace(m.metaText("NAME"))
		if name == "" {
			continue
		}
		b.addSymbol(category, Symbol{
			Name:     name,
			Line:     line,
			Kind:     symbolKind(category, variant),
			Exported: isExportedSymbol(lang, name, m.Text),
		})
	}
	return b.build(hashBytes(content)), nil
}

type astGrepMatch struct {
	RuleID string `json:"ruleId"`
	Text   string `json:"text"`
	Range  struct {
		Start struct {
			Line   int `json:"line"`
			Column int `json:"column"`
		} `json:"start"`
	} `json:"range"`
	MetaVariables struct {
		Single map[string]struct {
			Text string `json:"text"`
		} `json:"single"`
	} `json:"metaVariables"`
}

func (m astGrepMatch) metaText(name string) string {
	if m.MetaVariables.Single == nil {
		return ""
	}
	return m.MetaVariables.Single[name].Text
}

func parseAstGrepOutput(out []byte) ([]astGrepMatch, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var matches []astGrepMatch
	if err := json.Unmarshal(out, &matches); err != nil {
		return nil, fmt.Errorf("parse ast-grep output: %w", err)
	}
	return matches, nil
}

func cleanImportSource(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ";")
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}

func importKind(variant string) string {
	switch variant {
	case "require":
		return "require"
	case "from":
		return "from"
	case "use":
		return "use"
	case "source", "dot":
		return "source"
	default:
		return "import"
	}
}

func symbolKind(category, variant string) string {
	variant = strings.TrimPrefix(variant, "export-")
	variant = strings.TrimPrefix(variant, "export")
	switch variant {
	case "", "declaration", "def", "func", "fn", "async", "definition", "extends", "bases":
		if category == categoryConstant {
			return "const"
		}
		return category
	case "spec", "alias":
		if category == categoryConstant {
			return "const"
		}
		return "type"
	default:
		return variant
	}
}

func isExportedSymbol(lang, name, text string) bool {
	text = strings.TrimSpace(text)
	switch lang {
	case languageGo:
		r, _ := utf8.DecodeRuneInString(name)
		return unicode.IsUpper(r)
	case languagePython:
		return !strings.HasPrefix(name, "_")
	case languageRust:
		return strings.HasPrefix(text, "pub")
	case languageJava:
		first, _, _ := strings.Cut(text, "\n")
		return strings.Contains(first, "public")
	case languageJavaScript, languageTypeScript:
		return strings.HasPrefix(text, "export")
	default:
		return true
	}
}

var categoryPriority = map[string]int{
	categoryFunction: 0,
	categoryClass:    1,
	categoryType:     2,
	categoryConstant: 3,
}

type symbolCandidate struct {
	category string
	sym      Symbol
}

// recordBuilder collects symbols and imports for one file. The same
// declaration matched by several rules is kept once, in the category with the
// highest priority, and is exported if any match says so.
type recordBuilder struct {
	lang       string
	candidates map[string]symbolCandidate
	imports    []Import
	seenImport map[string]struct{}
}

func newRecordBuilder(lang string) *recordBuilder {
	return &recordBuilder{
		lang:       lang,
		candidates: make(map[string]symbolCandidate),
		seenImport: make(map[string]struct{}),
	}
}

func (b *recordBuilder) addSymbol(category string, sym Symbol) {
	if _, ok := categoryPriority[category]; !ok {
		return
	}
	key := fmt.Sprintf("%s\x00%d", sym.Name, sym.Line)
	prev, exists := b.candidates[key]
	if !exists {
		b.candidates[key] = symbolCandidate{category: category, sym: sym}
		return
	}
	exported := prev.sym.Exported || sym.Exported
	if categoryPriority[category] < categoryPriority[prev.category] {
		prev = symbolCandidate{category: category, sym: sym}
	}
	prev.sym.Exported = exported
	b.candidates[key] = prev
}

func (b *recordBuilder) addImport(imp Import) {
	if _, dup := b.seenImport[imp.Source]; dup {
		return
	}
	b.seenImport[imp.Source] = struct{}{}
	b.imports = append(b.imports, imp)
}

func (b *recordBuilder) build(hash string) *FileRecord {
	rec := &FileRecord{Hash: hash, Language: b.lang, Imports: b.imports}
	for _, c := range b.candidates {
		switch c.category {
		case categoryFunction:
			rec.Symbols.Functions = append(rec.Symbols.Functions, c.sym)
		case categoryClass:
			rec.Symbols.Classes = append(rec.Symbols.Classes, c.sym)
		case categoryType:
			rec.Symbols.Types = append(rec.Symbols.Types, c.sym)
		case categoryConstant:
			rec.Symbols.Constants = append(rec.Symbols.Constants, c.sym)
		}
	}
	sortSymbols(rec.Symbols.Functions)
	sortSymbols(rec.Symbols.Classes)
	sortSymbols(rec.Symbols.Types)
	sortSymbols(rec.Symbols.Constants)
	rec.normalize()
	return rec
}

func sortSymbols(syms []Symbol) {
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].Line != syms[j].Line {
			return syms[i].Line < syms[j].Line
		}
		return syms[i].Name < syms[j].Name
	})
}

// CachingScanner memoises another scanner by content hash, so identical
// content is parsed once per process.
type CachingScanner struct {
	inner Scanner
	cache *lru.Cache[string, *FileRecord]
}

// NewCachingScanner wraps inner with an LRU of the given size.
func NewCachingScanner(inner Scanner, size int) (*CachingScanner, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, *FileRecord](size)
	if err != nil {
		return nil, fmt.Errorf("create scan cache: %w", err)
	}
	return &CachingScanner{inner: inner, cache: cache}, nil
}

func (c *CachingScanner) Name() string { return c.inner.Name() }

func (c *CachingScanner) Languages() []string { return c.inner.Languages() }

func (c *CachingScanner) Scan(ctx context.Context, basePath, relPath string) (*FileRecord, error) {
	hash, err := hashFileContents(filepath.Join(basePath, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", relPath, err)
	}
	key := c.inner.Name() + "\x00" + strings.ToLower(filepath.Ext(relPath)) + "\x00" + hash
	if rec, ok := c.cache.Get(key); ok {
		return cloneRecord(rec), nil
	}

	rec, err := c.inner.Scan(ctx, basePath, relPath)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Hash == hash {
		c.cache.Add(key, cloneRecord(rec))
	}
	return rec, nil
}

func cloneRecord(rec *FileRecord) *FileRecord {
	if rec == nil {
		return nil
	}
	out := &FileRecord{
		Hash:     rec.Hash,
		Language: rec.Language,
		Symbols: Symbols{
			Functions: append([]Symbol{}, rec.Symbols.Functions...),
			Classes:   append([]Symbol{}, rec.Symbols.Classes...),
			Types:     append([]Symbol{}, rec.Symbols.Types...),
			Constants: append([]Symbol{}, rec.Symbols.Constants...),
		},
		Imports: append([]Import{}, rec.Imports...),
	}
	return out
}
