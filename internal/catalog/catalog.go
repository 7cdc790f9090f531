// Package catalog loads the declarative question catalogs and the ordered
// process catalog from YAML. Catalogs are versioned artifacts consumed
// read-only at initialization; the engine never mutates them.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haroov/chocoflow/internal/expr"
	"github.com/haroov/chocoflow/internal/models"
)

// ProcessFileName is the file inside a catalog directory that declares the
// ordered process catalog.
const ProcessFileName = "processes.yaml"

// Load reads and validates one question catalog from a YAML file.
func Load(path string) (*models.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	var c models.Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	// Stamp the stage key onto each question; the YAML nests questions under
	// their stage and does not repeat it.
	for si := range c.Stages {
		for qi := range c.Stages[si].Questions {
			c.Stages[si].Questions[qi].StageKey = c.Stages[si].Key
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s invalid: %w", path, err)
	}
	lintExpressions(&c)
	slog.Info("catalog.Load: catalog loaded", "path", path, "key", c.Key, "version", c.Version, "stages", len(c.Stages))
	return &c, nil
}

// LoadProcesses reads and validates the ordered process catalog.
func LoadProcesses(path string) (*models.ProcessCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read process catalog %s: %w", path, err)
	}
	var pc models.ProcessCatalog
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("failed to parse process catalog %s: %w", path, err)
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("process catalog %s invalid: %w", path, err)
	}
	slog.Info("catalog.LoadProcesses: process catalog loaded", "path", path, "processes", len(pc.Processes))
	return &pc, nil
}

// LoadDir loads a catalog directory: processes.yaml plus one question catalog
// per remaining .yaml/.yml file, keyed by the catalog's declared key.
func LoadDir(dir string) (map[string]*models.Catalog, *models.ProcessCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read catalog directory %s: %w", dir, err)
	}
	catalogs := make(map[string]*models.Catalog)
	var processes *models.ProcessCatalog
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		if name == ProcessFileName {
			processes, err = LoadProcesses(path)
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		c, err := Load(path)
		if err != nil {
			return nil, nil, err
		}
		if c.Key == "" {
			return nil, nil, fmt.Errorf("catalog %s has no key", path)
		}
		if _, dup := catalogs[c.Key]; dup {
			return nil, nil, fmt.Errorf("duplicate catalog key %q in %s", c.Key, path)
		}
		catalogs[c.Key] = c
	}
	if processes == nil {
		return nil, nil, fmt.Errorf("catalog directory %s has no %s", dir, ProcessFileName)
	}
	for _, p := range processes.Processes {
		if _, ok := catalogs[p.Key]; !ok {
			return nil, nil, fmt.Errorf("process %q has no matching catalog file in %s", p.Key, dir)
		}
	}
	return catalogs, processes, nil
}

// lintExpressions compile-checks every condition in the catalog. Failures are
// reported but not fatal: a malformed condition evaluates as false at runtime,
// and refusing the whole catalog for one bad rule would block every user.
func lintExpressions(c *models.Catalog) {
	check := func(where, src string) {
		if src == "" {
			return
		}
		if _, err := expr.Compile(src); err != nil {
			slog.Warn("catalog.lintExpressions: condition does not compile, will evaluate as false",
				"catalog", c.Key, "where", where, "condition", src, "error", err)
		}
	}
	for _, st := range c.Stages {
		check("stage "+st.Key, st.AskIf)
		for _, q := range st.Questions {
			check("question "+q.QID+" ask_if", q.AskIf)
			check("question "+q.QID+" required_if", q.RequiredIf)
		}
	}
	for _, m := range c.Modules {
		check("module "+m.Key, m.EnableIf)
	}
	for _, r := range c.DerivedRules {
		check("derived rule "+r.TargetField, r.SetWhen)
	}
	for _, r := range c.ProductionRules {
		check("production rule "+r.Key, r.When)
	}
	for _, a := range c.Attachments {
		check("attachment "+a.Key, a.When)
	}
	for _, h := range c.HandoffTriggers {
		check("handoff trigger "+h.Key, h.When)
	}
}
