package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRuleFileSplitsFourthLine(t *testing.T) {
	dir := t.TempDir()
	content := "line0\nline1\nline2\na,b,c\nline4\n"
	path := filepath.Join(dir, "rule1.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rule, err := loadRuleFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Rule{"line0", "line1", "line2", "a", "b", "c", "line4"}
	if len(rule) != len(want) {
		t.Fatalf("rule = %#v, want %#v", rule, want)
	}
	for i := range want {
		if rule[i] != want[i] {
			t.Fatalf("rule[%d] = %q, want %q", i, rule[i], want[i])
		}
	}
}

func TestChangedDetectsAddRemoveAndMtime(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)

	a := map[string]time.Time{"x.txt": t0}
	b := map[string]time.Time{"x.txt": t0}
	if Changed(a, b) {
		t.Error("identical snapshots should not be changed")
	}

	c := map[string]time.Time{"x.txt": t1}
	if !Changed(a, c) {
		t.Error("different mtime should be changed")
	}

	d := map[string]time.Time{"y.txt": t0}
	if !Changed(a, d) {
		t.Error("different key set should be changed")
	}
}

func TestSnapshotMissingDirectoryIsNotAnError(t *testing.T) {
	stamps, err := Snapshot(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a missing directory, got %v", err)
	}
	if len(stamps) != 0 {
		t.Fatalf("expected no stamps, got %v", stamps)
	}
}

func TestLoadWholeDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\nfour\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("uno\ndos\ntres\ncuatro,cinco\n"), 0o644)

	stamps, err := Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 2 {
		t.Fatalf("expected 2 stamps, got %d", len(stamps))
	}

	set, err := Load(dir, stamps)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(set.Rules))
	}
}
