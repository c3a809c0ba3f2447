package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func initDebugWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".codex")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := `{"logging":{"debug_mode":true,"level":"debug"}}`
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(CloseAll)
	return ws
}

func readCategoryLog(t *testing.T, ws string, category Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(ws, ".codex", "logs", date+"_"+string(category)+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s log: %v", category, err)
	}
	return string(data)
}

func TestCostHelpers_WriteAllLevels(t *testing.T) {
	ws := initDebugWorkspace(t)

	Cost("spent %.2f", 1.25)
	CostDebug("call cost %.4f", 0.0042)
	CostWarn("budget at %d%%", 90)
	CloseAll()

	got := readCategoryLog(t, ws, CategoryCost)
	for _, want := range []string{
		"[INFO] spent 1.25",
		"[DEBUG] call cost 0.0042",
		"[WARN] budget at 90%",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("cost log missing %q:\n%s", want, got)
		}
	}
}

func TestProductionMode_NoLogsDirectory(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Cost("should not be written")

	if _, err := os.Stat(filepath.Join(ws, ".codex", "logs")); !os.IsNotExist(err) {
		t.Errorf("logs directory created with debug mode off (stat err=%v)", err)
	}
}
