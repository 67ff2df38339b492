package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Harness is a lightweight integration test environment.
//
// It provisions a temp project directory with a `.opgate/` directory and
// points HOME at a scratch directory so user-level config never leaks in.
type Harness struct {
	T          *testing.T
	ProjectDir string
	HomeDir    string
	GateDir    string
	AuditPath  string
	DBPath     string
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()

	projectDir := t.TempDir()
	gateDir := filepath.Join(projectDir, ".opgate")
	if err := os.MkdirAll(gateDir, 0750); err != nil {
		t.Fatalf("NewHarness: mkdir .opgate: %v", err)
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	return &Harness{
		T:          t,
		ProjectDir: projectDir,
		HomeDir:    home,
		GateDir:    gateDir,
		AuditPath:  filepath.Join(gateDir, "audit.jsonl"),
		DBPath:     filepath.Join(gateDir, "audit.db"),
	}
}

// MustPath joins ProjectDir with parts.
func (h *Harness) MustPath(parts ...string) string {
	h.T.Helper()
	if h == nil || h.ProjectDir == "" {
		h.T.Fatalf("Harness.MustPath: harness not initialized")
	}
	all := append([]string{h.ProjectDir}, parts...)
	return filepath.Join(all...)
}

// WriteFile writes a file relative to the project directory.
func (h *Harness) WriteFile(rel string, data []byte, perm os.FileMode) string {
	h.T.Helper()
	if strings.TrimSpace(rel) == "" {
		h.T.Fatalf("Harness.WriteFile: rel path is required")
	}
	abs := h.MustPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		h.T.Fatalf("Harness.WriteFile: mkdir: %v", err)
	}
	if err := os.WriteFile(abs, data, perm); err != nil {
		h.T.Fatalf("Harness.WriteFile: write: %v", err)
	}
	return abs
}

// WriteConfig writes the project config file.
func (h *Harness) WriteConfig(toml string) string {
	h.T.Helper()
	return h.WriteFile(filepath.Join(".opgate", "config.toml"), []byte(toml), 0600)
}

func (h *Harness) String() string {
	if h == nil {
		return "Harness<nil>"
	}
	return fmt.Sprintf("Harness(project=%s, audit=%s)", h.ProjectDir, h.AuditPath)
}
