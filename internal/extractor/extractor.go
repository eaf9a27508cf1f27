package extractor

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// DirectiveMarker opts a generic declaration in to instantiation when it
// starts a line of the declaration's doc comment.
const DirectiveMarker = "geninst:generate"

var (
	directiveArgRe = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|\S+)`)
	majorVersionRe = regexp.MustCompile(`^v[0-9]+$`)
)

// Extractor finds generic type declarations in Go source using tree-sitter.
type Extractor struct {
	lang *sitter.Language
}

func NewExtractor() *Extractor {
	return &Extractor{lang: golang.GetLanguage()}
}

// ExtractFromFile parses a single source file.
func (e *Extractor) ExtractFromFile(ctx context.Context, filepath string) (*FileInfo, error) {
	sourceCode, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filepath, err)
	}
	return e.ExtractFromSource(ctx, filepath, sourceCode)
}

// ExtractFromSource parses already loaded source.
func (e *Extractor) ExtractFromSource(ctx context.Context, filepath string, sourceCode []byte) (*FileInfo, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(e.lang)
	tree, err := parser.ParseCtx(ctx, nil, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filepath, err)
	}
	root := tree.RootNode()

	info := &FileInfo{
		Path:    filepath,
		Package: e.detectPackageName(root, sourceCode),
		Imports: e.collectImports(root, sourceCode),
	}

	ordinal := 0
	for i := 0; i < int(root.NamedChildCount()); i++ {
		decl := root.NamedChild(i)
		if decl.Type() != "type_declaration" {
			continue
		}
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			spec := decl.NamedChild(j)
			switch spec.Type() {
			case "type_spec", "type_alias":
			default:
				continue
			}
			nameNode := spec.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Content(sourceCode)
			info.Types = append(info.Types, name)

			params := typeParameterList(spec)
			if spec.Type() != "type_spec" || params == nil {
				continue
			}

			doc := extractDocComment(spec, sourceCode)
			if doc == "" {
				doc = extractDocComment(decl, sourceCode)
			}
			info.Generic = append(info.Generic, GenericDecl{
				Name:       name,
				TypeParams: extractTypeParams(params, sourceCode),
				Directive:  parseDirective(doc),
				Ordinal:    ordinal,
				StartLine:  int(spec.StartPoint().Row + 1),
				Doc:        doc,
			})
			ordinal++
		}
	}
	return info, nil
}

func (e *Extractor) detectPackageName(root *sitter.Node, sourceCode []byte) string {
	pkgQuery, err := sitter.NewQuery([]byte(`(package_clause (package_identifier) @pkg)`), e.lang)
	if err != nil {
		return ""
	}
	pqc := sitter.NewQueryCursor()
	pqc.Exec(pkgQuery, root)
	if m, ok := pqc.NextMatch(); ok && len(m.Captures) > 0 {
		return m.Captures[0].Node.Content(sourceCode)
	}
	return ""
}

func (e *Extractor) collectImports(root *sitter.Node, sourceCode []byte) map[string]string {
	imports := make(map[string]string)
	query, err := sitter.NewQuery([]byte(`(import_spec) @import`), e.lang)
	if err != nil {
		return imports
	}
	qc := sitter.NewQueryCursor()
	qc.Exec(query, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			pathNode := c.Node.ChildByFieldName("path")
			if pathNode == nil {
				continue
			}
			importPath, err := strconv.Unquote(pathNode.Content(sourceCode))
			if err != nil {
				continue
			}
			local := defaultImportName(importPath)
			if nameNode := c.Node.ChildByFieldName("name"); nameNode != nil {
				local = nameNode.Content(sourceCode)
			}
			if local == "_" || local == "." {
				continue
			}
			imports[local] = importPath
		}
	}
	return imports
}

// defaultImportName guesses the package name of an import path the way most
// packages are named: the last element, skipping a major version suffix.
func defaultImportName(importPath string) string {
	base := path.Base(importPath)
	if majorVersionRe.MatchString(base) {
		base = path.Base(path.Dir(importPath))
	}
	if i := strings.Index(base, ".v"); i > 0 {
		base = base[:i]
	}
	base = strings.TrimPrefix(base, "go-")
	return strings.ReplaceAll(base, "-", "_")
}

func typeParameterList(spec *sitter.Node) *sitter.Node {
	if n := spec.ChildByFieldName("type_parameters"); n != nil {
		return n
	}
	for i := 0; i < int(spec.NamedChildCount()); i++ {
		if child := spec.NamedChild(i); child.Type() == "type_parameter_list" {
			return child
		}
	}
	return nil
}

func extractTypeParams(list *sitter.Node, sourceCode []byte) []TypeParam {
	var params []TypeParam
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		if decl.Type() == "comment" {
			continue
		}

		constraint := ""
		if tn := decl.ChildByFieldName("type"); tn != nil {
			constraint = tn.Content(sourceCode)
		}
		var names []string
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			child := decl.NamedChild(j)
			if child.Type() == "identifier" {
				names = append(names, child.Content(sourceCode))
			} else if constraint == "" {
				constraint = child.Content(sourceCode)
			}
		}
		for _, n := range names {
			params = append(params, TypeParam{Name: n, Constraint: canonicalize(constraint)})
		}
	}
	return params
}

func extractDocComment(node *sitter.Node, sourceCode []byte) string {
	var commentLines []string
	currentNode := node
	for {
		prevSibling := currentNode.PrevSibling()
		if prevSibling == nil || (currentNode.StartPoint().Row-prevSibling.EndPoint().Row > 1) {
			break
		}
		if prevSibling.Type() != "comment" {
			break
		}
		commentLines = append([]string{prevSibling.Content(sourceCode)}, commentLines...)
		currentNode = prevSibling
	}
	return cleanDocComment(strings.Join(commentLines, "\n"))
}

func cleanDocComment(rawComment string) string {
	if rawComment == "" {
		return ""
	}
	lines := strings.Split(rawComment, "\n")
	var cleaned []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "//")
		l = strings.TrimPrefix(l, "/*")
		l = strings.TrimSuffix(l, "*/")
		cleaned = append(cleaned, strings.TrimSpace(l))
	}
	return strings.Join(cleaned, "\n")
}

// parseDirective reads `geninst:generate menu=Containers/Basic file=NewBox order=3`.
func parseDirective(doc string) *Directive {
	for _, line := range strings.Split(doc, "\n") {
		rest, ok := strings.CutPrefix(line, DirectiveMarker)
		if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		d := &Directive{}
		for _, m := range directiveArgRe.FindAllStringSubmatch(rest, -1) {
			value := m[2]
			if unquoted, err := strconv.Unquote(value); err == nil {
				value = unquoted
			}
			switch m[1] {
			case "menu":
				d.Menu = value
			case "file":
				d.File = value
			case "order":
				d.Order, _ = strconv.Atoi(value)
			}
		}
		return d
	}
	return nil
}
