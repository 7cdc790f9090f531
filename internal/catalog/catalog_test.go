package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haroov/chocoflow/internal/models"
)

const intakeYAML = `key: intake
version: "2026-01"
stages:
  - key: identify
    title: Business details
    module_exempt: true
    questions:
      - qid: q_type
        field: business_type
        prompt: What kind of business?
        type: enum
        doc_path: business.type
        options:
          - value: restaurant
            label: Restaurant
          - value: bakery
      - qid: q_new
        field: is_new
        prompt: Is this a new business?
        type: boolean
  - key: kitchen
    ask_if: business_type = 'restaurant'
    questions:
      - qid: q_area
        field: kitchen_area
        prompt: Kitchen area?
        type: number
        module: food
        constraints:
          min: 10
          max: 1000
          step: 5
modules:
  - key: food
    enable_if: business_type = 'restaurant'
`

const processesYAML = `processes:
  - key: intake
    title: Intake
    order: 1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "intake.yaml", intakeYAML)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Key != "intake" || c.Version != "2026-01" {
		t.Errorf("key/version = %s/%s", c.Key, c.Version)
	}
	if len(c.Stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(c.Stages))
	}
	q := c.FindQuestion("q_area")
	if q == nil {
		t.Fatal("q_area not found")
	}
	if q.StageKey != "kitchen" {
		t.Errorf("StageKey = %s, want kitchen (stamped by loader)", q.StageKey)
	}
	if q.Constraint == nil || *q.Constraint.Step != 5 {
		t.Errorf("constraints not decoded: %+v", q.Constraint)
	}
	if q.ModuleKey != "food" {
		t.Errorf("module = %s", q.ModuleKey)
	}
	if got := c.FindQuestion("q_type").Options[0].Display(); got != "Restaurant" {
		t.Errorf("option display = %s", got)
	}
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	dir := t.TempDir()
	dup := `key: broken
stages:
  - key: s1
    questions:
      - qid: q1
        field: a
        prompt: p
        type: string
      - qid: q1
        field: b
        prompt: p
        type: string
`
	path := writeFile(t, dir, "broken.yaml", dup)
	if _, err := Load(path); err == nil {
		t.Fatal("duplicate qid must be rejected")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "stages: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML must be rejected")
	}
}

func TestLoadProcesses(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ProcessFileName, processesYAML)
	pc, err := LoadProcesses(path)
	if err != nil {
		t.Fatalf("LoadProcesses error: %v", err)
	}
	if len(pc.Processes) != 1 || pc.Processes[0].Key != "intake" {
		t.Errorf("processes = %+v", pc.Processes)
	}
}

func TestLoadProcessesRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ProcessFileName, "processes: []\n")
	_, err := LoadProcesses(path)
	if err == nil {
		t.Fatal("empty process catalog must be rejected")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "intake.yaml", intakeYAML)
	writeFile(t, dir, ProcessFileName, processesYAML)
	writeFile(t, dir, "notes.txt", "ignored")

	catalogs, pc, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir error: %v", err)
	}
	if len(catalogs) != 1 {
		t.Fatalf("catalogs = %d, want 1", len(catalogs))
	}
	if _, ok := catalogs["intake"]; !ok {
		t.Error("intake catalog missing")
	}
	if len(pc.Processes) != 1 {
		t.Errorf("processes = %d, want 1", len(pc.Processes))
	}
}

func TestLoadDirRequiresProcessFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "intake.yaml", intakeYAML)
	if _, _, err := LoadDir(dir); err == nil {
		t.Fatal("missing processes.yaml must be rejected")
	}
}

func TestLoadDirRequiresCatalogPerProcess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProcessFileName, processesYAML)
	if _, _, err := LoadDir(dir); err == nil {
		t.Fatal("process without catalog must be rejected")
	}
}

func TestLoadedCatalogDrivesValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "intake.yaml", intakeYAML)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("loaded catalog should validate: %v", err)
	}
	if !models.IsValidDataType(c.FindQuestion("q_new").DataType) {
		t.Error("data type lost in decode")
	}
}
