package classify

import (
	"reflect"
	"testing"
)

func TestClassify_EmptyMetadata(t *testing.T) {
	_, err := Classify(Metadata{})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*InvalidMetadataError); !ok {
		t.Errorf("expected InvalidMetadataError, got %T", err)
	}

	// Whitespace-only description is still empty.
	_, err = Classify(Metadata{Description: "   "})
	if err == nil {
		t.Error("whitespace description should not rescue empty metadata")
	}
}

func TestClassify_CVSSShortCircuit(t *testing.T) {
	r, err := Classify(Metadata{
		AffectedFiles: []string{"README.md"},
		SecurityScore: 9.8,
		Description:   "fix typo in docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Class != ClassEmergency {
		t.Errorf("CVSS > 7 must force Emergency, got %s", r.Class)
	}
	if r.Confidence != 1.0 {
		t.Errorf("emergency confidence must be 1.0, got %f", r.Confidence)
	}

	// Exactly 7.0 does not trigger.
	r, err = Classify(Metadata{AffectedFiles: []string{"main.go"}, SecurityScore: 7.0})
	if err != nil {
		t.Fatal(err)
	}
	if r.Class == ClassEmergency {
		t.Error("CVSS exactly 7.0 must not short-circuit")
	}
}

func TestClassify_DocsAreRoutine(t *testing.T) {
	r, err := Classify(Metadata{
		AffectedFiles: []string{"README.md", "docs/guide.md"},
		Description:   "fix typo in documentation",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Class != ClassRoutine {
		t.Errorf("doc-only typo fix should be Routine, got %s (%v)", r.Class, r.MatchedSignals)
	}
}

func TestClassify_DependencyChangeIsMajor(t *testing.T) {
	r, err := Classify(Metadata{
		AffectedFiles:   []string{"go.mod", "go.sum"},
		NewDependencies: []string{"github.com/new/dep"},
		Description:     "add dependency",
	})
	if err != nil {
		t.Fatal(err)
	}
	// (2.0 + 2.0 + 2.0 dep bonus) / 2 files = 3.0 >= 1.8
	if r.Class != ClassMajor {
		t.Errorf("new dependency on manifests should be Major, got %s", r.Class)
	}
}

func TestClassify_PublicAPIBonus(t *testing.T) {
	base, err := Classify(Metadata{AffectedFiles: []string{"api.go"}, Description: "tune internals"})
	if err != nil {
		t.Fatal(err)
	}
	bumped, err := Classify(Metadata{AffectedFiles: []string{"api.go"}, Description: "tune internals", ModifiesPublicAPI: true})
	if err != nil {
		t.Fatal(err)
	}
	// 1.0 → Significant; 1.0+1.5=2.5 → Major.
	if base.Class != ClassSignificant || bumped.Class != ClassMajor {
		t.Errorf("api bonus: base=%s bumped=%s", base.Class, bumped.Class)
	}
}

func TestClassify_KeywordDeltas(t *testing.T) {
	r, err := Classify(Metadata{
		AffectedFiles: []string{"auth.go"},
		Description:   "patch vulnerability in token validation",
	})
	if err != nil {
		t.Fatal(err)
	}
	// 1.0 + 2.0 keyword = 3.0 → Major.
	if r.Class != ClassMajor {
		t.Errorf("vulnerability keyword should escalate, got %s", r.Class)
	}
	found := false
	for _, s := range r.MatchedSignals {
		if s == "keyword:vulnerability" {
			found = true
		}
	}
	if !found {
		t.Errorf("keyword signal missing: %v", r.MatchedSignals)
	}
}

func TestClassify_TestsBelowSource(t *testing.T) {
	if scoreFile("pkg/thing_test.go") >= scoreFile("pkg/thing.go") {
		t.Error("test files must score below source files")
	}
	if scoreFile("README.md") >= scoreFile("pkg/thing_test.go") {
		t.Error("docs must score below tests")
	}
	if scoreFile("go.mod") <= scoreFile("pkg/thing.go") {
		t.Error("dependency manifests must score above source")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	meta := Metadata{
		AffectedFiles:     []string{"z.go", "a.go", "m_test.go"},
		NewDependencies:   []string{"dep"},
		Description:       "refactor with security hardening",
		ModifiesPublicAPI: true,
	}
	first, err := Classify(meta)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Classify(meta)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("classification must be pure: %#v vs %#v", first, again)
		}
	}

	// Caller file order must not affect the signal order.
	shuffled := meta
	shuffled.AffectedFiles = []string{"m_test.go", "a.go", "z.go"}
	again, err := Classify(shuffled)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.MatchedSignals, again.MatchedSignals) {
		t.Error("signal ordering must not depend on input order")
	}
}

func TestClassify_ConfidenceBounds(t *testing.T) {
	cases := []Metadata{
		{AffectedFiles: []string{"a.md"}},
		{AffectedFiles: []string{"a.go", "b.go"}, Description: "security breaking migration"},
		{AffectedFiles: []string{"go.mod"}, NewDependencies: []string{"x"}, ModifiesPublicAPI: true},
	}
	for _, meta := range cases {
		r, err := Classify(meta)
		if err != nil {
			t.Fatal(err)
		}
		if r.Confidence < 0.3 || r.Confidence > 0.95 {
			t.Errorf("confidence out of bounds for %+v: %f", meta, r.Confidence)
		}
	}
}
