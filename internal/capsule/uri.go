// Package capsule is the append-only provenance log behind the pipeline:
// events and blobs addressed by logical mv2:// URIs, stored in SQLite.
package capsule

import (
	"fmt"
	"strings"
)

// Kind is the addressable namespace inside one workspace.
type Kind string

const (
	KindPolicy   Kind = "policy"
	KindStage    Kind = "stage"
	KindEvidence Kind = "evidence"
	KindArtifact Kind = "artifact"
)

const uriScheme = "mv2://"

var validKinds = map[Kind]bool{
	KindPolicy:   true,
	KindStage:    true,
	KindEvidence: true,
	KindArtifact: true,
}

// URI is the parsed form of mv2://<workspace>/<kind>/<id...>.
type URI struct {
	Workspace string
	Kind      Kind
	ID        []string
}

// NewURI builds a URI from its parts.
func NewURI(workspace string, kind Kind, id ...string) URI {
	return URI{Workspace: workspace, Kind: kind, ID: id}
}

// String renders the canonical form. ParseURI(u.String()) == u.
func (u URI) String() string {
	parts := append([]string{u.Workspace, string(u.Kind)}, u.ID...)
	return uriScheme + strings.Join(parts, "/")
}

// ParseURI parses the canonical string form.
func ParseURI(s string) (URI, error) {
	if !strings.HasPrefix(s, uriScheme) {
		return URI{}, fmt.Errorf("not an mv2 uri: %q", s)
	}
	rest := strings.TrimPrefix(s, uriScheme)
	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return URI{}, fmt.Errorf("mv2 uri needs workspace/kind/id, got %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return URI{}, fmt.Errorf("mv2 uri has empty segment: %q", s)
		}
	}
	kind := Kind(parts[1])
	if !validKinds[kind] {
		return URI{}, fmt.Errorf("unknown mv2 kind %q in %q", parts[1], s)
	}
	return URI{Workspace: parts[0], Kind: kind, ID: parts[2:]}, nil
}
