package repomap

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	categoryFunction = "function"
	categoryClass    = "class"
	categoryType     = "type"
	categoryConstant = "constant"
	categoryImport   = "import"
)

// ruleTemplate is one query, identified as "<category>/<variant>". Symbol
// rules capture $NAME, import rules capture $SOURCE.
type ruleTemplate struct {
	ID   string
	Rule ruleBody
}

type ruleBody struct {
	Pattern string    `yaml:"pattern,omitempty"`
	Kind    string    `yaml:"kind,omitempty"`
	Field   string    `yaml:"field,omitempty"`
	Has     *ruleBody `yaml:"has,omitempty"`
}

type inlineRule struct {
	ID       string   `yaml:"id"`
	Language string   `yaml:"language"`
	Severity string   `yaml:"severity"`
	Message  string   `yaml:"message"`
	Rule     ruleBody `yaml:"rule"`
}

func patternRule(id, pattern string) ruleTemplate {
	return ruleTemplate{ID: id, Rule: ruleBody{Pattern: pattern}}
}

// namedKindRule matches nodes of kind whose field child is captured as metaVar.
func namedKindRule(id, kind, field, metaVar string) ruleTemplate {
	return ruleTemplate{ID: id, Rule: ruleBody{
		Kind: kind,
		Has:  &ruleBody{Field: field, Pattern: "$" + metaVar},
	}}
}

var jsRuleTemplates = []ruleTemplate{
	patternRule("function/export", "export function $NAME($$$PARAMS) { $$$BODY }"),
	patternRule("function/export-async", "export async function $NAME($$$PARAMS) { $$$BODY }"),
	patternRule("function/declaration", "function $NAME($$$PARAMS) { $$$BODY }"),
	patternRule("function/async", "async function $NAME($$$PARAMS) { $$$BODY }"),
	patternRule("function/arrow", "const $NAME = ($$$PARAMS) => $BODY"),
	patternRule("class/export", "export class $NAME { $$$BODY }"),
	patternRule("class/declaration", "class $NAME { $$$BODY }"),
	patternRule("class/extends", "class $NAME extends $BASE { $$$BODY }"),
	patternRule("constant/export", "export const $NAME = $VALUE"),
	patternRule("constant/declaration", "const $NAME = $VALUE"),
	patternRule("import/esm", "import $$$SPEC from $SOURCE"),
	patternRule("import/bare", "import $SOURCE"),
	patternRule("import/require", "require($SOURCE)"),
	patternRule("import/dynamic", "import($SOURCE)"),
}

var tsOnlyRuleTemplates = []ruleTemplate{
	patternRule("type/export-interface", "export interface $NAME { $$$BODY }"),
	patternRule("type/interface", "interface $NAME { $$$BODY }"),
	patternRule("type/export-alias", "export type $NAME = $TYPE"),
	patternRule("type/alias", "type $NAME = $TYPE"),
	patternRule("type/enum", "enum $NAME { $$$BODY }"),
}

var ruleTemplatesByLanguage = map[string][]ruleTemplate{
	languageJavaScript: jsRuleTemplates,
	languageTypeScript: append(append([]ruleTemplate(nil), jsRuleTemplates...), tsOnlyRuleTemplates...),
	languagePython: {
		patternRule("function/def", "def $NAME($$$PARAMS): $$$BODY"),
		patternRule("function/async", "async def $NAME($$$PARAMS): $$$BODY"),
		patternRule("class/declaration", "class $NAME: $$$BODY"),
		patternRule("class/bases", "class $NAME($$$BASES): $$$BODY"),
		patternRule("import/import", "import $SOURCE"),
		patternRule("import/from", "from $SOURCE import $$$NAMES"),
	},
	languageGo: {
		namedKindRule("function/func", "function_declaration", "name", "NAME"),
		namedKindRule("function/method", "method_declaration", "name", "NAME"),
		namedKindRule("type/spec", "type_spec", "name", "NAME"),
		namedKindRule("constant/const", "const_spec", "name", "NAME"),
		namedKindRule("import/spec", "import_spec", "path", "SOURCE"),
	},
	languageRust: {
		namedKindRule("function/fn", "function_item", "name", "NAME"),
		namedKindRule("type/struct", "struct_item", "name", "NAME"),
		namedKindRule("type/enum", "enum_item", "name", "NAME"),
		namedKindRule("type/trait", "trait_item", "name", "NAME"),
		namedKindRule("type/alias", "type_item", "name", "NAME"),
		namedKindRule("constant/const", "const_item", "name", "NAME"),
		namedKindRule("constant/static", "static_item", "name", "NAME"),
		namedKindRule("import/use", "use_declaration", "argument", "SOURCE"),
	},
	languageJava: {
		namedKindRule("class/declaration", "class_declaration", "name", "NAME"),
		namedKindRule("type/interface", "interface_declaration", "name", "NAME"),
		namedKindRule("type/enum", "enum_declaration", "name", "NAME"),
		namedKindRule("function/method", "method_declaration", "name", "NAME"),
		patternRule("import/declaration", "import $SOURCE;"),
	},
	languageShell: {
		namedKindRule("function/definition", "function_definition", "name", "NAME"),
		patternRule("import/source", "source $SOURCE"),
		patternRule("import/dot", ". $SOURCE"),
	},
}

// inlineRulesByAstLang holds the rendered multi-document rule YAML keyed by
// ast-grep language name.
var inlineRulesByAstLang = buildInlineRules()

func buildInlineRules() map[string]string {
	out := make(map[string]string)
	for id, templates := range ruleTemplatesByLanguage {
		astLang := builtinLanguageSpecs[id].AstGrepLang
		doc, err := renderInlineRules(astLang, templates)
		if err != nil {
			// Built-ins should always render.
			panic(err)
		}
		out[astLang] = doc
		if id == languageTypeScript {
			tsx, err := renderInlineRules("Tsx", templates)
			if err != nil {
				panic(err)
			}
			out["Tsx"] = tsx
		}
	}
	return out
}

func renderInlineRules(astLang string, templates []ruleTemplate) (string, error) {
	docs := make([]string, 0, len(templates))
	for _, t := range templates {
		data, err := yaml.Marshal(inlineRule{
			ID:       t.ID,
			Language: astLang,
			Severity: "hint",
			Message:  t.ID,
			Rule:     t.Rule,
		})
		if err != nil {
			return "", fmt.Errorf("render rule %s: %w", t.ID, err)
		}
		docs = append(docs, string(data))
	}
	return strings.Join(docs, "---\n"), nil
}

// astGrepLanguageFor returns the ast-grep language name for a source path.
func astGrepLanguageFor(relPath string) (string, bool) {
	lang, ok := languageForPath(relPath)
	if !ok {
		return "", false
	}
	if lang == languageTypeScript && isTSXPath(relPath) {
		return "Tsx", true
	}
	return builtinLanguageSpecs[lang].AstGrepLang, true
}

// splitRuleID splits "function/arrow" into its category and variant.
func splitRuleID(id string) (string, string) {
	category, variant, found := strings.Cut(id, "/")
	if !found {
		return id, ""
	}
	return category, variant
}
