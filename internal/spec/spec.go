// Package spec creates and tracks SPEC-KIT feature directories under
// docs/ and maintains the SPEC.md tracker table.
package spec

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"codexkit/internal/logging"
)

const specIDPrefix = "SPEC-KIT-"

const maxSlugLen = 80

var specDirPattern = regexp.MustCompile(`^SPEC-KIT-(\d{3})-`)

// Created describes a freshly created SPEC.
type Created struct {
	SpecID string
	Slug   string
	Dir    string
}

// Slugify lowercases, maps every non-alphanumeric run to one dash, and
// trims leading and trailing dashes. Results longer than the cap are cut
// and suffixed with an 8-hex digest of the full slug so distinct inputs
// stay distinct. Idempotent.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) <= maxSlugLen {
		return slug
	}
	sum := sha256.Sum256([]byte(slug))
	suffix := fmt.Sprintf("%x", sum[:4])
	head := strings.TrimRight(slug[:maxSlugLen-len(suffix)-1], "-")
	return head + "-" + suffix
}

// Create allocates the next SPEC id under root/docs, creates the SPEC
// directory with PRD.md and spec.md seeds, and appends a tracker row to
// SPEC.md. An empty description is an error.
func Create(description, root string) (*Created, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("spec description is empty")
	}

	docs := filepath.Join(root, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		return nil, err
	}

	next, err := nextSpecNumber(docs)
	if err != nil {
		return nil, err
	}
	specID := fmt.Sprintf("%s%03d", specIDPrefix, next)
	slug := Slugify(description)
	if slug == "" {
		return nil, fmt.Errorf("description %q produces an empty slug", description)
	}

	dir := filepath.Join(docs, specID+"-"+slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	prd := fmt.Sprintf("# %s: %s\n\n## Overview\n\n%s\n\n## Requirements\n\n## Acceptance Criteria\n\n## Scope\n\n## Risks\n",
		specID, description, description)
	if err := os.WriteFile(filepath.Join(dir, "PRD.md"), []byte(prd), 0o644); err != nil {
		return nil, err
	}
	seed := fmt.Sprintf("# %s\n\nslug: %s\ncreated: %s\n\n## Notes\n",
		specID, slug, time.Now().UTC().Format("2006-01-02"))
	if err := os.WriteFile(filepath.Join(dir, "spec.md"), []byte(seed), 0o644); err != nil {
		return nil, err
	}

	if err := appendTrackerRow(root, specID, slug, description); err != nil {
		return nil, err
	}

	logging.Pipeline("created %s (%s)", specID, slug)
	return &Created{SpecID: specID, Slug: slug, Dir: dir}, nil
}

// nextSpecNumber finds the highest existing SPEC-KIT-NNN directory and
// returns the next number, starting from 1.
func nextSpecNumber(docs string) (int, error) {
	entries, err := os.ReadDir(docs)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := specDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// appendTrackerRow adds the SPEC to the task table in SPEC.md, creating
// the file with a header when absent.
func appendTrackerRow(root, specID, slug, description string) error {
	path := filepath.Join(root, "SPEC.md")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data = []byte("# SPEC tracker\n\n| SPEC | Slug | Description | Status |\n|------|------|-------------|--------|\n")
	} else if err != nil {
		return err
	}

	body := string(data)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	body += fmt.Sprintf("| %s | %s | %s | pending |\n", specID, slug, description)
	return os.WriteFile(path, []byte(body), 0o644)
}
