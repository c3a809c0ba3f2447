// Package evidence manages the lifecycle of per-SPEC evidence trees: size
// accounting, archival of aged files into dated tarballs, purging, and the
// in-progress exemption that keeps active SPECs untouched.
package evidence

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codexkit/internal/logging"
)

// Config controls the daily cleanup.
type Config struct {
	ArchiveAfterDays int
	PurgeAfterDays   int
	WarningMB        int
	HardMB           int
	Enabled          bool
	DryRun           bool
	EvidenceBase     string
}

// DefaultConfig returns the standard retention policy over a base dir.
func DefaultConfig(base string) Config {
	return Config{
		ArchiveAfterDays: 30,
		PurgeAfterDays:   180,
		WarningMB:        45,
		HardMB:           50,
		Enabled:          true,
		EvidenceBase:     base,
	}
}

// inProgressWindow exempts SPECs with recent activity from archival and
// purging.
const inProgressWindow = 7 * 24 * time.Hour

// Summary reports one cleanup run. Errors are collected here, never
// propagated; dry runs fill every count without touching disk.
type Summary struct {
	FilesArchived     int      `json:"files_archived"`
	FilesPurged       int      `json:"files_purged"`
	SpaceReclaimed    int64    `json:"space_reclaimed"`
	Warnings          []string `json:"warnings,omitempty"`
	Errors            []string `json:"errors,omitempty"`
	ExemptedSpecs     []string `json:"exempted_specs,omitempty"`
	TotalSize         int64    `json:"total_size"`
	DryRun            bool     `json:"dry_run"`
	AutomationBlocked bool     `json:"automation_blocked"`
}

// Cleaner runs the retention policy. now is swapped in tests.
type Cleaner struct {
	cfg Config
	now func() time.Time
}

// NewCleaner creates a cleaner for the configured evidence tree.
func NewCleaner(cfg Config) *Cleaner {
	return &Cleaner{cfg: cfg, now: time.Now}
}

type candidate struct {
	path string
	size int64
	spec string
}

// RunDailyCleanup computes sizes, finds archive and purge candidates,
// exempts in-progress SPECs, and applies the policy. With DryRun set, no
// file on disk changes but every count is still produced.
func (c *Cleaner) RunDailyCleanup(ctx context.Context) Summary {
	summary := Summary{DryRun: c.cfg.DryRun}
	if !c.cfg.Enabled {
		summary.Warnings = append(summary.Warnings, "evidence cleanup disabled")
		return summary
	}

	now := c.now()
	archiveCutoff := now.Add(-time.Duration(c.cfg.ArchiveAfterDays) * 24 * time.Hour)
	purgeCutoff := now.Add(-time.Duration(c.cfg.PurgeAfterDays) * 24 * time.Hour)

	archiveBySpec := make(map[string][]candidate)
	purgeBySpec := make(map[string][]candidate)

	err := filepath.Walk(c.cfg.EvidenceBase, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
			return nil
		}
		if info.IsDir() {
			return nil
		}
		summary.TotalSize += info.Size()

		// Archives already written are not candidates again.
		rel, relErr := filepath.Rel(c.cfg.EvidenceBase, path)
		if relErr != nil || strings.HasPrefix(rel, "archive"+string(filepath.Separator)) {
			return nil
		}

		spec := specForPath(rel)
		cand := candidate{path: path, size: info.Size(), spec: spec}
		switch {
		case info.ModTime().Before(purgeCutoff):
			purgeBySpec[spec] = append(purgeBySpec[spec], cand)
		case info.ModTime().Before(archiveCutoff):
			archiveBySpec[spec] = append(archiveBySpec[spec], cand)
		}
		return nil
	})
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}

	totalMB := summary.TotalSize / (1 << 20)
	if totalMB >= int64(c.cfg.HardMB) {
		summary.AutomationBlocked = true
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("evidence tree at %d MB exceeds the %d MB hard limit; automation blocked", totalMB, c.cfg.HardMB))
	} else if totalMB >= int64(c.cfg.WarningMB) {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("evidence tree at %d MB approaching the %d MB limit", totalMB, c.cfg.HardMB))
	}

	// Filter out in-progress SPECs.
	exempt := make(map[string]bool)
	for spec := range union(archiveBySpec, purgeBySpec) {
		if c.specInProgress(spec, now) {
			exempt[spec] = true
		}
	}
	for spec := range exempt {
		delete(archiveBySpec, spec)
		delete(purgeBySpec, spec)
		summary.ExemptedSpecs = append(summary.ExemptedSpecs, spec)
	}
	sort.Strings(summary.ExemptedSpecs)

	c.archive(ctx, archiveBySpec, now, &summary)
	c.purge(purgeBySpec, &summary)

	logging.Evidence("cleanup: archived=%d purged=%d reclaimed=%d exempt=%d dry_run=%v",
		summary.FilesArchived, summary.FilesPurged, summary.SpaceReclaimed, len(summary.ExemptedSpecs), summary.DryRun)
	return summary
}

// specForPath extracts the SPEC segment from a relative evidence path.
// commands/<spec>/... and consensus/<spec>/... carry it second; anything
// else is keyed by its first component.
func specForPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 2 && (parts[0] == "commands" || parts[0] == "consensus") {
		return parts[1]
	}
	return parts[0]
}

// specInProgress reports whether any file under commands/<spec> or
// consensus/<spec> was modified inside the exemption window.
func (c *Cleaner) specInProgress(spec string, now time.Time) bool {
	for _, sub := range []string{"commands", "consensus"} {
		dir := filepath.Join(c.cfg.EvidenceBase, sub, spec)
		recent := false
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			if now.Sub(info.ModTime()) < inProgressWindow {
				recent = true
				return filepath.SkipAll
			}
			return nil
		})
		if recent {
			return true
		}
	}
	return false
}

// archive groups each SPEC's candidates into one dated tar.gz and removes
// the originals. SPECs are archived concurrently.
func (c *Cleaner) archive(ctx context.Context, bySpec map[string][]candidate, now time.Time, summary *Summary) {
	if len(bySpec) == 0 {
		return
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for spec, files := range bySpec {
		spec, files := spec, files
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var archived int
			var reclaimed int64
			var errs []string

			if c.cfg.DryRun {
				for _, f := range files {
					archived++
					reclaimed += f.size
				}
			} else {
				dest := filepath.Join(c.cfg.EvidenceBase, "archive",
					fmt.Sprintf("%s_%s.tar.gz", spec, now.Format("20060102")))
				n, size, err := writeTarball(dest, c.cfg.EvidenceBase, files)
				if err != nil {
					errs = append(errs, fmt.Sprintf("archiving %s: %v", spec, err))
				} else {
					archived = n
					reclaimed = size
					for _, f := range files {
						if err := os.Remove(f.path); err != nil {
							errs = append(errs, fmt.Sprintf("removing %s: %v", f.path, err))
						}
					}
				}
			}

			mu.Lock()
			summary.FilesArchived += archived
			summary.SpaceReclaimed += reclaimed
			summary.Errors = append(summary.Errors, errs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("archive pass aborted: %v", err))
	}
}

// writeTarball creates a gzip tarball of the files with base-relative
// names; returns the file count and their original size.
func writeTarball(dest, base string, files []candidate) (int, int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, 0, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var total int64
	for _, f := range files {
		info, err := os.Stat(f.path)
		if err != nil {
			return 0, 0, err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return 0, 0, err
		}
		if rel, err := filepath.Rel(base, f.path); err == nil {
			hdr.Name = filepath.ToSlash(rel)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, 0, err
		}
		src, err := os.Open(f.path)
		if err != nil {
			return 0, 0, err
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return 0, 0, err
		}
		src.Close()
		total += f.size
	}
	if err := tw.Close(); err != nil {
		return 0, 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, 0, err
	}
	return len(files), total, nil
}

// purge unlinks everything past the purge cutoff.
func (c *Cleaner) purge(bySpec map[string][]candidate, summary *Summary) {
	for _, files := range bySpec {
		for _, f := range files {
			if !c.cfg.DryRun {
				if err := os.Remove(f.path); err != nil {
					summary.Errors = append(summary.Errors, fmt.Sprintf("purging %s: %v", f.path, err))
					continue
				}
			}
			summary.FilesPurged++
			summary.SpaceReclaimed += f.size
		}
	}
}

func union(a, b map[string][]candidate) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
