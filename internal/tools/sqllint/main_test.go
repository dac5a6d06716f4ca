package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFileFlagsUnmarkedSQL(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "q.go", "package q\n\n"+
		"const QGood = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;`\n\n"+
		"const QBad = `select * from generations`\n\n"+
		"const NotSQL = \"hello\"\n")

	stmts, violations, err := lintFile(path)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(stmts) != 1 || stmts[0].name != "QGood" {
		t.Fatalf("unexpected statements %+v", stmts)
	}
	if len(violations) != 1 || violations[0].name != "QBad" {
		t.Fatalf("unexpected violations %+v", violations)
	}
}

func TestDuplicateMarkersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QA = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QB = `--sql 11111111-2222-4333-8444-555555555555\nselect 2;`\n")
	writeGo(t, dir, "b_test.go", "package q\n\nconst QT = `select 3`\n")

	stmts, violations, err := lintTarget(dir)
	if err != nil {
		t.Fatalf("lintTarget: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("test files must be skipped, got %+v", violations)
	}
	dups := duplicateMarkers(stmts)
	if len(dups) != 1 || dups[0].name != "QB" {
		t.Fatalf("unexpected duplicates %+v", dups)
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	stmts, violations, err := lintTarget(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("lintTarget: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("unmarked queries: %+v", violations)
	}
	if dups := duplicateMarkers(stmts); len(dups) != 0 {
		t.Fatalf("duplicate markers: %+v", dups)
	}
	if len(stmts) == 0 {
		t.Fatalf("no statements found")
	}
}
