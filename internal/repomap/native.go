package repomap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	pythonClassPattern          = regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	pythonFuncPattern           = regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	pythonAsyncFuncPattern      = regexp.MustCompile(`^async\s+def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	pythonImportPattern         = regexp.MustCompile(`^import\s+(.+)$`)
	pythonFromImportPattern     = regexp.MustCompile(`^from\s+([\.A-Za-z_][A-Za-z0-9_\.]*)\s+import\s+`)
	pythonConstantAssignPattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*(?::[^=]+)?=`)

	shellFuncPattern   = regexp.MustCompile(`^(?:function\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(\))?\s*\{`)
	shellSourcePattern = regexp.MustCompile(`^(?:source|\.)\s+([^\s;#]+)`)
)

// NativeScanner extracts records in-process without the external AST tool:
// go/parser for Go, tree-sitter for TypeScript, JavaScript and Rust, and
// top-level line patterns for Python and shell.
type NativeScanner struct{}

func (NativeScanner) Name() string { return "native" }

func (NativeScanner) Languages() []string {
	return []string{languageGo, languageJavaScript, languagePython, languageRust, languageShell, languageTypeScript}
}

func (s NativeScanner) Scan(ctx context.Context, basePath, relPath string) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang, ok := languageForPath(relPath)
	if !ok || !languageEnabled(s.Languages(), lang) {
		return nil, fmt.Errorf("unsupported file type: %s", relPath)
	}

	content, err := os.ReadFile(filepath.Join(basePath, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}

	b := newRecordBuilder(lang)
	switch lang {
	case languageGo:
		err = scanGoSource(b, content, relPath)
	case languageTypeScript, languageJavaScript:
		err = scanTypeScriptSource(b, content, relPath)
	case languageRust:
		err = scanRustSource(b, content)
	case languagePython:
		scanPythonSource(b, content)
	case languageShell:
		scanShellSource(b, content)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}
	return b.build(hashBytes(content)), nil
}

func scanGoSource(b *recordBuilder, content []byte, relPath string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, relPath, content, parser.SkipObjectResolution)
	if err != nil {
		return err
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path == "" {
			continue
		}
		b.addImport(Import{Source: path, Kind: "import"})
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := "function"
			if d.Recv != nil {
				kind = "method"
			}
			b.addSymbol(categoryFunction, Symbol{
				Name:     d.Name.Name,
				Line:     fset.Position(d.Pos()).Line,
				Kind:     kind,
				Exported: ast.IsExported(d.Name.Name),
			})
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch sp := spec.(type) {
				case *ast.TypeSpec:
					kind := "type"
					switch sp.Type.(type) {
					case *ast.StructType:
						kind = "struct"
					case *ast.InterfaceType:
						kind = "interface"
					}
					b.addSymbol(categoryType, Symbol{
						Name:     sp.Name.Name,
						Line:     fset.Position(sp.Pos()).Line,
						Kind:     kind,
						Exported: ast.IsExported(sp.Name.Name),
					})
				case *ast.ValueSpec:
					if d.Tok != token.CONST {
						continue
					}
					for _, name := range sp.Names {
						if name.Name == "_" {
							continue
						}
						b.addSymbol(categoryConstant, Symbol{
							Name:     name.Name,
							Line:     fset.Position(name.Pos()).Line,
							Kind:     "const",
							Exported: ast.IsExported(name.Name),
						})
					}
				}
			}
		}
	}
	return nil
}

func scanPythonSource(b *recordBuilder, content []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		// Top-level definitions only.
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}

		if match := pythonClassPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			b.addSymbol(categoryClass, Symbol{Name: match[1], Line: lineNo, Kind: "class", Exported: isPublicPythonSymbol(match[1])})
			continue
		}
		if match := pythonAsyncFuncPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			b.addSymbol(categoryFunction, Symbol{Name: match[1], Line: lineNo, Kind: "async", Exported: isPublicPythonSymbol(match[1])})
			continue
		}
		if match := pythonFuncPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			b.addSymbol(categoryFunction, Symbol{Name: match[1], Line: lineNo, Kind: "function", Exported: isPublicPythonSymbol(match[1])})
			continue
		}
		if match := pythonConstantAssignPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			b.addSymbol(categoryConstant, Symbol{Name: match[1], Line: lineNo, Kind: "const", Exported: true})
			continue
		}
		if match := pythonFromImportPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			if imp := strings.Trim(strings.TrimSpace(match[1]), "()"); imp != "" {
				b.addImport(Import{Source: imp, Kind: "from"})
			}
			continue
		}
		if match := pythonImportPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			for _, imp := range parsePythonImportStatement(match[1]) {
				b.addImport(Import{Source: imp, Kind: "import"})
			}
		}
	}
}

func parsePythonImportStatement(spec string) []string {
	spec = strings.Trim(strings.TrimSpace(spec), "()")
	if spec == "" {
		return nil
	}

	parts := strings.Split(spec, ",")
	imports := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		if name := strings.Trim(fields[0], "()"); name != "" {
			imports = append(imports, name)
		}
	}
	return imports
}

func isPublicPythonSymbol(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

func scanShellSource(b *recordBuilder, content []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}

		if match := shellFuncPattern.FindStringSubmatch(trimmed); len(match) == 2 {
			b.addSymbol(categoryFunction, Symbol{Name: match[1], Line: lineNo, Kind: "function", Exported: true})
			continue
		}
		if match := shellSourcePattern.FindStringSubmatch(trimmed); len(match) == 2 {
			if target := strings.Trim(strings.TrimSpace(match[1]), `"'`); target != "" {
				b.addImport(Import{Source: target, Kind: "source"})
			}
		}
	}
}
