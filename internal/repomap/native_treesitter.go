package repomap

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

var (
	rustSyntaxLanguage       = sitter.NewLanguage(tree_sitter_rust.Language())
	typeScriptSyntaxLanguage = sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	typeScriptTSXLanguage    = sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
)

func newParserForLanguage(language *sitter.Language) (*sitter.Parser, error) {
	parser := sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		parser.Close()
		return nil, err
	}
	return parser, nil
}

func parseTree(language *sitter.Language, content []byte) (*sitter.Tree, error) {
	parser, err := newParserForLanguage(language)
	if err != nil {
		return nil, fmt.Errorf("create parser: %w", err)
	}
	defer parser.Close()

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse failed")
	}
	return tree, nil
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return node.Utf8Text(source)
}

func nodeLine(node *sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

func unquoteStringLiteral(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	unquoted, err := strconv.Unquote(raw)
	if err != nil {
		return strings.Trim(raw, "\"'`")
	}
	return unquoted
}

func walkTreePreOrder(root *sitter.Node, visit func(*sitter.Node)) {
	if root == nil || visit == nil {
		return
	}

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(node)

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			child := node.Child(uint(i))
			if child != nil {
				stack = append(stack, child)
			}
		}
	}
}

func declarationName(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return strings.TrimSpace(nodeText(node.ChildByFieldName("name"), content))
}

// scanTypeScriptSource extracts symbols and imports from TypeScript, TSX and
// JavaScript sources. JavaScript is parsed with the TSX grammar.
func scanTypeScriptSource(b *recordBuilder, content []byte, relPath string) error {
	language := typeScriptSyntaxLanguage
	if isTSXPath(relPath) || isJSXPath(relPath) || b.lang == languageJavaScript {
		language = typeScriptTSXLanguage
	}
	tree, err := parseTree(language, content)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("empty syntax tree")
	}

	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		if stmt == nil {
			continue
		}
		switch stmt.Kind() {
		case "import_statement":
			if src := unquoteStringLiteral(nodeText(stmt.ChildByFieldName("source"), content)); src != "" {
				b.addImport(Import{Source: src, Kind: "import"})
			}
		case "export_statement":
			if decl := stmt.ChildByFieldName("declaration"); decl != nil {
				addTypeScriptDeclaration(b, decl, content, true)
			}
			if src := unquoteStringLiteral(nodeText(stmt.ChildByFieldName("source"), content)); src != "" {
				b.addImport(Import{Source: src, Kind: "import"})
			}
		default:
			addTypeScriptDeclaration(b, stmt, content, false)
		}
	}

	walkTreePreOrder(root, func(node *sitter.Node) {
		if node.Kind() != "call_expression" {
			return
		}
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return
		}
		kind := ""
		switch {
		case fn.Kind() == "import":
			kind = "import"
		case fn.Kind() == "identifier" && nodeText(fn, content) == "require":
			kind = "require"
		default:
			return
		}
		args := node.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return
		}
		first := args.NamedChild(0)
		if first == nil || first.Kind() != "string" {
			return
		}
		if src := unquoteStringLiteral(nodeText(first, content)); src != "" {
			b.addImport(Import{Source: src, Kind: kind})
		}
	})
	return nil
}

func addTypeScriptDeclaration(b *recordBuilder, decl *sitter.Node, content []byte, exported bool) {
	line := nodeLine(decl)
	add := func(category, kind string) {
		name := declarationName(decl, content)
		if name == "" {
			return
		}
		b.addSymbol(category, Symbol{Name: name, Line: line, Kind: kind, Exported: exported})
	}

	switch decl.Kind() {
	case "function_declaration", "generator_function_declaration":
		add(categoryFunction, "function")
	case "class_declaration", "abstract_class_declaration":
		add(categoryClass, "class")
	case "interface_declaration":
		add(categoryType, "interface")
	case "type_alias_declaration":
		add(categoryType, "type")
	case "enum_declaration":
		add(categoryType, "enum")
	case "lexical_declaration", "variable_declaration":
		isConst := strings.HasPrefix(strings.TrimSpace(nodeText(decl, content)), "const")
		for i := uint(0); i < decl.NamedChildCount(); i++ {
			declarator := decl.NamedChild(i)
			if declarator == nil || declarator.Kind() != "variable_declarator" {
				continue
			}
			nameNode := declarator.ChildByFieldName("name")
			if nameNode == nil || nameNode.Kind() != "identifier" {
				continue
			}
			name := strings.TrimSpace(nodeText(nameNode, content))
			value := declarator.ChildByFieldName("value")
			switch {
			case value != nil && (value.Kind() == "arrow_function" || value.Kind() == "function_expression" || value.Kind() == "function"):
				b.addSymbol(categoryFunction, Symbol{Name: name, Line: nodeLine(declarator), Kind: "arrow", Exported: exported})
			case isConst:
				b.addSymbol(categoryConstant, Symbol{Name: name, Line: nodeLine(declarator), Kind: "const", Exported: exported})
			}
		}
	}
}

// scanRustSource extracts top-level items, impl methods and use declarations.
func scanRustSource(b *recordBuilder, content []byte) error {
	tree, err := parseTree(rustSyntaxLanguage, content)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("empty syntax tree")
	}
	addRustItems(b, root, content, false)
	return nil
}

func addRustItems(b *recordBuilder, parent *sitter.Node, content []byte, inImpl bool) {
	for i := uint(0); i < parent.NamedChildCount(); i++ {
		item := parent.NamedChild(i)
		if item == nil {
			continue
		}
		name := declarationName(item, content)
		exported := rustIsPublic(item)
		line := nodeLine(item)

		switch item.Kind() {
		case "function_item":
			kind := "function"
			if inImpl {
				kind = "method"
			}
			if name != "" {
				b.addSymbol(categoryFunction, Symbol{Name: name, Line: line, Kind: kind, Exported: exported})
			}
		case "struct_item", "enum_item", "trait_item", "type_item", "union_item":
			if name != "" {
				kind := strings.TrimSuffix(item.Kind(), "_item")
				if kind == "type" {
					kind = "alias"
				}
				b.addSymbol(categoryType, Symbol{Name: name, Line: line, Kind: kind, Exported: exported})
			}
		case "const_item", "static_item":
			if name != "" {
				b.addSymbol(categoryConstant, Symbol{Name: name, Line: line, Kind: strings.TrimSuffix(item.Kind(), "_item"), Exported: exported})
			}
		case "use_declaration":
			arg := item.ChildByFieldName("argument")
			if src := strings.Join(strings.Fields(nodeText(arg, content)), ""); src != "" {
				b.addImport(Import{Source: src, Kind: "use"})
			}
		case "impl_item":
			if body := item.ChildByFieldName("body"); body != nil {
				addRustItems(b, body, content, true)
			}
		case "mod_item":
			if body := item.ChildByFieldName("body"); body != nil {
				addRustItems(b, body, content, false)
			}
		}
	}
}

func rustIsPublic(item *sitter.Node) bool {
	for i := uint(0); i < item.NamedChildCount(); i++ {
		child := item.NamedChild(i)
		if child != nil && child.Kind() == "visibility_modifier" {
			return true
		}
	}
	return false
}
