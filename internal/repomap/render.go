package repomap

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

const summaryTemplate = `# Repo map
<!-- Generated: {{.Map.Generated.Format "2006-01-02 15:04:05 UTC"}} -->
<!-- Updated: {{.Map.Updated.Format "2006-01-02 15:04:05 UTC"}} -->
{{- if .Map.Git}}
<!-- Commit: {{shortCommit .Map.Git.Commit}}{{if .Map.Git.Branch}} ({{.Map.Git.Branch}}){{end}} -->
{{- end}}

Languages: {{join .Map.Project.Languages ", "}}
Files: {{.Map.Stats.TotalFiles}}  Symbols: {{.Map.Stats.TotalSymbols}}  Scan: {{.Map.Stats.ScanDurationMs}}ms

## Files

| File | Symbols | Imports | Exported |
|------|---------|---------|----------|
{{- range .Rows}}
| {{.Path}} | {{.Symbols}} | {{.Imports}} | {{truncate (join .Exported ", ") 60}} |
{{- end}}
{{- if .Omitted}}

_{{.Omitted}} more file(s) omitted._
{{- end}}
{{if .Map.Stats.Errors}}

## Scan errors

{{- range .Map.Stats.Errors}}
- {{.File}}: {{truncate .Message 120}}
{{- end}}
{{end}}
`

var summaryTmpl = template.Must(template.New("repomap").Funcs(template.FuncMap{
	"truncate":    truncate,
	"join":        strings.Join,
	"shortCommit": shortCommit,
}).Parse(summaryTemplate))

type summaryRow struct {
	Path     string
	Symbols  int
	Imports  int
	Exported []string
}

// Render produces a markdown summary of m listing at most limit files, the
// ones with the most symbols first. limit <= 0 lists every file.
func Render(m *RepoMap, limit int) (string, error) {
	if m == nil {
		return "", fmt.Errorf("render: nil map")
	}

	rows := make([]summaryRow, 0, len(m.Files))
	for path, rec := range m.Files {
		if rec == nil {
			continue
		}
		rows = append(rows, summaryRow{
			Path:     path,
			Symbols:  rec.Symbols.Count(),
			Imports:  len(m.Dependencies[path]),
			Exported: exportedNames(rec),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Symbols != rows[j].Symbols {
			return rows[i].Symbols > rows[j].Symbols
		}
		return rows[i].Path < rows[j].Path
	})

	omitted := 0
	if limit > 0 && len(rows) > limit {
		omitted = len(rows) - limit
		rows = rows[:limit]
	}

	var sb strings.Builder
	data := struct {
		Map     *RepoMap
		Rows    []summaryRow
		Omitted int
	}{Map: m, Rows: rows, Omitted: omitted}
	if err := summaryTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return sb.String(), nil
}

// RenderPaths lists one file per line as "<path>\t<symbols>\t<dependencies>",
// sorted by path.
func RenderPaths(m *RepoMap) string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	sb.WriteString("# Format: <file>\\t<symbol_count>\\t[dependencies]\n")
	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteString("\t")
		fmt.Fprintf(&sb, "%d", m.Files[p].Symbols.Count())
		if deps := m.Dependencies[p]; len(deps) > 0 {
			sb.WriteString("\t")
			sb.WriteString(strings.Join(deps, ","))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func exportedNames(rec *FileRecord) []string {
	var names []string
	for _, group := range [][]Symbol{rec.Symbols.Types, rec.Symbols.Classes, rec.Symbols.Functions, rec.Symbols.Constants} {
		for _, sym := range group {
			if sym.Exported {
				names = append(names, sym.Name)
			}
		}
	}
	return names
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
