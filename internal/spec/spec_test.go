package spec

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var slugShape = regexp.MustCompile(`^[a-z0-9](-[a-z0-9]+)*$`)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Add user authentication":   "add-user-authentication",
		"  Fix  the   CRASH!!  ":    "fix-the-crash",
		"v2.0: new API (draft)":     "v2-0-new-api-draft",
		"already-slugged-input":     "already-slugged-input",
		"Ünïcödé handling":          "n-c-d-handling",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify_IdempotentAndShaped(t *testing.T) {
	inputs := []string{
		"Add user authentication",
		"A very long description " + strings.Repeat("with many words ", 20),
		"!!!punctuation only at the start",
		strings.Repeat("x", 200),
	}
	for _, in := range inputs {
		slug := Slugify(in)
		if slug == "" {
			t.Fatalf("Slugify(%q) empty", in)
		}
		if Slugify(slug) != slug {
			t.Errorf("Slugify not idempotent for %q: %q -> %q", in, slug, Slugify(slug))
		}
		if !slugShape.MatchString(slug) {
			t.Errorf("Slugify(%q) = %q violates shape", in, slug)
		}
		if len(slug) > 80 {
			t.Errorf("Slugify(%q) length %d exceeds cap", in, len(slug))
		}
	}
}

func TestSlugify_LongInputsStayDistinct(t *testing.T) {
	base := strings.Repeat("shared prefix words ", 10)
	a := Slugify(base + "alpha tail that gets truncated away entirely")
	b := Slugify(base + "omega tail that gets truncated away entirely")
	if a == b {
		t.Errorf("distinct long inputs collided: %q", a)
	}
}

func TestCreate_FirstSpec(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "SPEC.md"),
		[]byte("# SPEC tracker\n\n| SPEC | Slug | Description | Status |\n|------|------|-------------|--------|\n"), 0o644)

	created, err := Create("Add user authentication", root)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.SpecID != "SPEC-KIT-001" {
		t.Errorf("SpecID = %q, want SPEC-KIT-001", created.SpecID)
	}
	if created.Slug != "add-user-authentication" {
		t.Errorf("Slug = %q", created.Slug)
	}

	dir := filepath.Join(root, "docs", "SPEC-KIT-001-add-user-authentication")
	for _, name := range []string{"PRD.md", "spec.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	tracker, _ := os.ReadFile(filepath.Join(root, "SPEC.md"))
	if !strings.Contains(string(tracker), "| SPEC-KIT-001 | add-user-authentication | Add user authentication | pending |") {
		t.Errorf("tracker row missing:\n%s", tracker)
	}
}

func TestCreate_NumbersIncrement(t *testing.T) {
	root := t.TempDir()
	if _, err := Create("First feature", root); err != nil {
		t.Fatal(err)
	}
	second, err := Create("Second feature", root)
	if err != nil {
		t.Fatal(err)
	}
	if second.SpecID != "SPEC-KIT-002" {
		t.Errorf("SpecID = %q, want SPEC-KIT-002", second.SpecID)
	}
	// Numbering skips over gaps to one past the maximum.
	os.MkdirAll(filepath.Join(root, "docs", "SPEC-KIT-041-imported"), 0o755)
	third, err := Create("Third feature", root)
	if err != nil {
		t.Fatal(err)
	}
	if third.SpecID != "SPEC-KIT-042" {
		t.Errorf("SpecID = %q, want SPEC-KIT-042", third.SpecID)
	}
}

func TestCreate_EmptyDescription(t *testing.T) {
	if _, err := Create("   ", t.TempDir()); err == nil {
		t.Fatal("empty description accepted")
	}
}
