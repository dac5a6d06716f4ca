// Command sqllint checks that every SQL constant starts with a
// `--sql <uuid>` marker and that no two statements share a marker. The
// SQLRunner refuses unmarked queries at runtime; this catches them in CI.
package main

import (
	"flag"
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
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type statement struct {
	file   string
	name   string
	line   int
	marker string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	var stmts []statement
	var violations []violation
	for _, target := range targets {
		s, v, err := lintTarget(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
		stmts = append(stmts, s...)
		violations = append(violations, v...)
	}
	violations = append(violations, duplicateMarkers(stmts)...)

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: SQL marker problems")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
		}
		os.Exit(1)
	}
	fmt.Printf("sqllint: %d statements ok\n", len(stmts))
}

func lintTarget(target string) ([]statement, []violation, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil, nil, nil
		}
		return lintFile(target)
	}
	var stmts []statement
	var violations []violation
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		s, v, err := lintFile(path)
		if err != nil {
			return err
		}
		stmts = append(stmts, s...)
		violations = append(violations, v...)
		return nil
	})
	return stmts, violations, err
}

// lintFile returns the marked statements declared in path and the string
// constants that look like SQL but carry no valid marker.
func lintFile(path string) ([]statement, []violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	var stmts []statement
	var violations []violation
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			name := joinNames(vs.Names)
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			line := fset.Position(bl.Pos()).Line
			marker := firstLine(raw)
			if !uuidMarkerPattern.MatchString(marker) {
				violations = append(violations, violation{
					file:    path,
					line:    line,
					name:    name,
					message: "missing or invalid --sql <uuid> marker",
				})
				continue
			}
			stmts = append(stmts, statement{file: path, name: name, line: line, marker: marker})
		}
		return true
	})
	return stmts, violations, nil
}

func duplicateMarkers(stmts []statement) []violation {
	seen := make(map[string]statement, len(stmts))
	var violations []violation
	for _, s := range stmts {
		if first, ok := seen[s.marker]; ok {
			violations = append(violations, violation{
				file:    s.file,
				line:    s.line,
				name:    s.name,
				message: fmt.Sprintf("marker already used by %s (%s:%d)", first.name, first.file, first.line),
			})
			continue
		}
		seen[s.marker] = s
	}
	return violations
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
