// Package standards maps disclosure-standard identifiers to the reference
// text injected into generation and dialogue prompts.
package standards

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed standards.yaml
var rawTable []byte

// Entry is one standard's reference material.
type Entry struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

// Table is an immutable lookup table keyed by normalized identifier.
type Table struct {
	entries map[string]Entry
	order   []string
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded table.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(rawTable)
	})
	return defaultTable, defaultErr
}

// Parse builds a table from YAML. Later duplicates of an identifier are ignored.
func Parse(data []byte) (*Table, error) {
	var list []Entry
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse standards table: %w", err)
	}
	t := &Table{entries: make(map[string]Entry, len(list))}
	for _, e := range list {
		key := normalize(e.ID)
		if key == "" {
			return nil, fmt.Errorf("standards table: entry %q has empty id", e.Title)
		}
		if _, dup := t.entries[key]; dup {
			continue
		}
		t.entries[key] = e
		t.order = append(t.order, e.ID)
	}
	return t, nil
}

// IDs lists known identifiers in table order.
func (t *Table) IDs() []string {
	return append([]string(nil), t.order...)
}

// Get returns the entry for an identifier.
func (t *Table) Get(id string) (Entry, bool) {
	e, ok := t.entries[normalize(id)]
	return e, ok
}

// Context concatenates the reference text for ids. Repeated identifiers are
// rendered once; unknown ones get an explicit not-found line.
func (t *Table) Context(ids []string) string {
	var b strings.Builder
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		key := normalize(id)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		e, ok := t.entries[key]
		if !ok {
			fmt.Fprintf(&b, "### %s\n（未找到该准则的参考内容）", strings.TrimSpace(id))
			continue
		}
		fmt.Fprintf(&b, "### %s %s\n%s", e.ID, e.Title, strings.TrimSpace(e.Text))
	}
	return b.String()
}

// Lookup renders context from the embedded table.
func Lookup(ids []string) string {
	t, err := Default()
	if err != nil {
		// the embedded table is validated by tests; fall back to placeholders
		t = &Table{entries: map[string]Entry{}}
	}
	return t.Context(ids)
}

func normalize(id string) string {
	return strings.ToUpper(strings.Join(strings.Fields(id), " "))
}
