// Package architect maintains the .codex/architect/ knowledge vault:
// repo ingest artifacts, cached answers and audits, and freshness
// tracking against the current git head.
package architect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codexkit/internal/logging"
)

// vaultDir is the vault location relative to the repo root.
var vaultDir = filepath.Join(".codex", "architect")

// Freshness of the vault relative to the repository head.
type Freshness string

const (
	Fresh          Freshness = "FRESH"
	Stale          Freshness = "STALE"
	NotInitialized Freshness = "NOT INITIALIZED"
)

// Vault is a discovered .codex/architect directory.
type Vault struct {
	Root string // repository root containing .codex/architect
	Dir  string // the vault directory itself
}

// FindVault walks upward from cwd looking for .codex/architect/.
func FindVault(cwd string) (*Vault, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(dir, vaultDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return &Vault{Root: dir, Dir: candidate}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("no %s vault found above %s", vaultDir, cwd)
		}
		dir = parent
	}
}

// InitVault creates the vault skeleton under root.
func InitVault(root string) (*Vault, error) {
	v := &Vault{Root: root, Dir: filepath.Join(root, vaultDir)}
	for _, sub := range []string{"ingest", "answers", "audits"} {
		if err := os.MkdirAll(filepath.Join(v.Dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	logging.Architect("initialized vault at %s", v.Dir)
	return v, nil
}

func (v *Vault) ingestDir() string  { return filepath.Join(v.Dir, "ingest") }
func (v *Vault) answersDir() string { return filepath.Join(v.Dir, "answers") }
func (v *Vault) auditsDir() string  { return filepath.Join(v.Dir, "audits") }
func (v *Vault) hashFile() string   { return filepath.Join(v.Dir, ".repo_hash") }

// StoredHash returns the head hash recorded at the last refresh.
func (v *Vault) StoredHash() (string, bool) {
	data, err := os.ReadFile(v.hashFile())
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// Freshness compares the stored hash against the current head.
func (v *Vault) Freshness() Freshness {
	stored, ok := v.StoredHash()
	if !ok {
		return NotInitialized
	}
	if stored == repoHead(v.Root) {
		return Fresh
	}
	return Stale
}

// CachedEntry is one answer or audit file.
type CachedEntry struct {
	Name     string
	Path     string
	Modified time.Time
}

// RecentAnswers lists cached answers newest-first.
func (v *Vault) RecentAnswers(limit int) []CachedEntry {
	return recentEntries(v.answersDir(), limit)
}

// RecentAudits lists cached audits newest-first.
func (v *Vault) RecentAudits(limit int) []CachedEntry {
	return recentEntries(v.auditsDir(), limit)
}

func recentEntries(dir string, limit int) []CachedEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []CachedEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, CachedEntry{
			Name:     strings.TrimSuffix(e.Name(), ".md"),
			Path:     filepath.Join(dir, e.Name()),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ClearCache empties answers/ and audits/, leaving ingest artifacts.
func (v *Vault) ClearCache() (int, error) {
	removed := 0
	for _, dir := range []string{v.answersDir(), v.auditsDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	logging.Architect("cleared %d cached entries", removed)
	return removed, nil
}
