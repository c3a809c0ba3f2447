package architect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"codexkit/internal/logging"
	"codexkit/internal/spec"
)

// notebookBinary is the external notebook CLI consulted for answers. Its
// absence is reported gracefully, never as a command failure.
const notebookBinary = "notebooklm"

// timeNow is swapped in tests for stable cache headers.
var timeNow = time.Now

// AskResult is a cached or freshly produced answer.
type AskResult struct {
	Slug      string
	Path      string
	Body      string
	FromCache bool
	Notice    string // set when the external tool is unavailable
}

// Ask answers a query, consulting the answers/ cache first. force
// bypasses the cache. The notebook CLI being absent produces a notice
// result instead of an error.
func (v *Vault) Ask(ctx context.Context, query string, force bool) (*AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	slug := spec.Slugify(query)
	path := filepath.Join(v.answersDir(), slug+".md")
	return v.answer(ctx, query, slug, path, force)
}

// Audit produces or returns a cached audit for one crate/package under
// audits/<crate>.md. The name is slugified before use so it is always a
// safe single path segment; for conventional lowercase package names the
// slug is the name itself.
func (v *Vault) Audit(ctx context.Context, crate string, force bool) (*AskResult, error) {
	crate = strings.TrimSpace(crate)
	if crate == "" {
		return nil, fmt.Errorf("empty crate name")
	}
	slug := spec.Slugify(crate)
	path := filepath.Join(v.auditsDir(), slug+".md")
	prompt := fmt.Sprintf("Audit the %s package: structure, risks, and test coverage.", crate)
	return v.answer(ctx, prompt, slug, path, force)
}

func (v *Vault) answer(ctx context.Context, prompt, slug, path string, force bool) (*AskResult, error) {
	if !force {
		if data, err := os.ReadFile(path); err == nil {
			logging.Architect("cache hit for %s", slug)
			return &AskResult{Slug: slug, Path: path, Body: string(data), FromCache: true}, nil
		}
	}

	body, notice, err := v.consultNotebook(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if notice != "" {
		return &AskResult{Slug: slug, Notice: notice}, nil
	}

	header := fmt.Sprintf("<!-- generated %s UTC -->\n\n", timeNow().UTC().Format("2006-01-02 15:04:05"))
	content := header + body
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	logging.Architect("cached answer %s", path)
	return &AskResult{Slug: slug, Path: path, Body: content}, nil
}

// consultNotebook spawns the external notebook CLI. A missing binary is
// a notice, not an error.
func (v *Vault) consultNotebook(ctx context.Context, prompt string) (body, notice string, err error) {
	bin, lookErr := exec.LookPath(notebookBinary)
	if lookErr != nil {
		return "", fmt.Sprintf("%s is not installed; skipping external lookup. Install it to enable architect answers.", notebookBinary), nil
	}
	cmd := exec.CommandContext(ctx, bin, "ask", "--source", v.ingestDir())
	cmd.Stdin = strings.NewReader(prompt)
	out, err := cmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", notebookBinary, err)
	}
	return string(out), "", nil
}

// Render pretty-prints markdown for terminals; non-TTY output gets the
// raw text so pipes stay clean.
func Render(markdown string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return markdown
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
