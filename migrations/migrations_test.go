package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsOrderedGooseFiles(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	want := []string{"00001_tokens.sql", "00002_operators.sql"}
	if len(names) != len(want) {
		t.Fatalf("files=%v, want %v", names, want)
	}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("files[%d]=%q, want %q", i, n, want[i])
		}
		b, err := fs.ReadFile(FS, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", n)
		}
	}
}
