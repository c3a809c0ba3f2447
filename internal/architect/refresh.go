package architect

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"codexkit/internal/logging"
)

// RefreshOptions let callers skip individual ingest artifacts.
type RefreshOptions struct {
	SkipGit        bool
	SkipComplexity bool
	SkipSkeleton   bool
	Legacy         bool
}

// repoHead returns the trimmed `git rev-parse HEAD`, or "unknown" when
// git fails or the tree is not a repository.
func repoHead(root string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// Refresh rebuilds the ingest artifacts: churn_matrix.md,
// complexity_map.json, repo_skeleton.xml, and .repo_hash.
func (v *Vault) Refresh(ctx context.Context, opts RefreshOptions) error {
	if err := os.MkdirAll(v.ingestDir(), 0o755); err != nil {
		return err
	}

	if !opts.SkipGit {
		if err := v.writeChurnMatrix(ctx); err != nil {
			return fmt.Errorf("churn matrix: %w", err)
		}
	}
	if !opts.SkipComplexity {
		if err := v.writeComplexityMap(ctx); err != nil {
			return fmt.Errorf("complexity map: %w", err)
		}
	}
	if !opts.SkipSkeleton {
		if err := v.writeRepoSkeleton(); err != nil {
			return fmt.Errorf("repo skeleton: %w", err)
		}
	}

	head := repoHead(v.Root)
	if err := os.WriteFile(v.hashFile(), []byte(head+"\n"), 0o644); err != nil {
		return err
	}
	logging.Architect("refreshed vault (head %s)", head)
	return nil
}

// writeChurnMatrix counts per-file commit touches from git history and
// renders them as a markdown table, most-churned first.
func (v *Vault) writeChurnMatrix(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "log", "--name-only", "--pretty=format:")
	cmd.Dir = v.Root
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("git log: %w", err)
	}

	counts := make(map[string]int)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		counts[line]++
	}

	type churn struct {
		path  string
		count int
	}
	rows := make([]churn, 0, len(counts))
	for path, n := range counts {
		rows = append(rows, churn{path, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].path < rows[j].path
	})

	var b strings.Builder
	b.WriteString("# Churn matrix\n\n| File | Commits |\n|------|---------|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %d |\n", r.path, r.count)
	}
	return os.WriteFile(filepath.Join(v.ingestDir(), "churn_matrix.md"), []byte(b.String()), 0o644)
}

// FileComplexity is the per-file entry of complexity_map.json.
type FileComplexity struct {
	Path       string `json:"path"`
	Functions  int    `json:"functions"`
	Branches   int    `json:"branches"`
	Complexity int    `json:"complexity"`
}

// branchNodeTypes are the Go AST nodes counted toward cyclomatic
// complexity.
var branchNodeTypes = map[string]bool{
	"if_statement":              true,
	"for_statement":             true,
	"expression_switch_statement": true,
	"type_switch_statement":     true,
	"select_statement":          true,
	"communication_case":        true,
	"expression_case":           true,
}

// writeComplexityMap parses every Go file with tree-sitter and records
// function and branch counts.
func (v *Vault) writeComplexityMap(ctx context.Context) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	var files []FileComplexity
	err := filepath.Walk(v.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if name == ".git" || name == ".codex" || strings.HasPrefix(name, "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		fc, err := measureGoFile(ctx, parser, content)
		if err != nil {
			logging.Architect("skipping %s: %v", path, err)
			return nil
		}
		rel, _ := filepath.Rel(v.Root, path)
		fc.Path = filepath.ToSlash(rel)
		files = append(files, fc)
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(v.ingestDir(), "complexity_map.json"), data, 0o644)
}

func measureGoFile(ctx context.Context, parser *sitter.Parser, content []byte) (FileComplexity, error) {
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return FileComplexity{}, err
	}
	defer tree.Close()

	var fc FileComplexity
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration", "method_declaration":
			fc.Functions++
		default:
			if branchNodeTypes[n.Type()] {
				fc.Branches++
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	// Each function contributes a base path; branches add one each.
	fc.Complexity = fc.Functions + fc.Branches
	return fc, nil
}

// skeletonNode is one directory in repo_skeleton.xml.
type skeletonNode struct {
	XMLName xml.Name       `xml:"dir"`
	Name    string         `xml:"name,attr"`
	Files   []skeletonFile `xml:"file"`
	Dirs    []skeletonNode `xml:"dir"`
}

type skeletonFile struct {
	Name string `xml:"name,attr"`
	Size int64  `xml:"size,attr"`
}

// writeRepoSkeleton renders the directory tree as XML, skipping VCS and
// vault internals.
func (v *Vault) writeRepoSkeleton() error {
	root, err := buildSkeleton(v.Root, filepath.Base(v.Root))
	if err != nil {
		return err
	}
	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	out := append([]byte(xml.Header), data...)
	return os.WriteFile(filepath.Join(v.ingestDir(), "repo_skeleton.xml"), append(out, '\n'), 0o644)
}

func buildSkeleton(dir, name string) (skeletonNode, error) {
	node := skeletonNode{Name: name}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return node, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if e.Name() == ".git" || e.Name() == ".codex" {
				continue
			}
			child, err := buildSkeleton(filepath.Join(dir, e.Name()), e.Name())
			if err != nil {
				continue
			}
			node.Dirs = append(node.Dirs, child)
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		node.Files = append(node.Files, skeletonFile{Name: e.Name(), Size: info.Size()})
	}
	return node, nil
}
