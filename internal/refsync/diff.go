// Package refsync compares the legacy documents served by a PRIMARY with the
// copies in the GitHub legacy repositories and exports the PRIMARY versions
// of the categories that drifted.
package refsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// summaryLimit is the number of names listed per change kind in Summary.
const summaryLimit = 5

// Diff is the difference between the PRIMARY legacy document of a category
// and its GitHub copy.
type Diff struct {
	Category models.Category

	// Added holds records present only on the PRIMARY.
	Added legacy.Document
	// Removed holds records present only on GitHub.
	Removed legacy.Document
	// Modified holds the PRIMARY version of records whose content differs.
	Modified legacy.Document
}

// Compare diffs the PRIMARY and GitHub documents of c. Records are compared
// by JSON value, so key order and whitespace do not count as changes.
func Compare(c models.Category, primary, github legacy.Document) *Diff {
	d := &Diff{
		Category: c,
		Added:    legacy.Document{},
		Removed:  legacy.Document{},
		Modified: legacy.Document{},
	}
	for name, raw := range primary {
		other, ok := github[name]
		switch {
		case !ok:
			d.Added[name] = raw
		case !sameJSON(raw, other):
			d.Modified[name] = raw
		}
	}
	for name, raw := range github {
		if _, ok := primary[name]; !ok {
			d.Removed[name] = raw
		}
	}
	return d
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// HasChanges reports whether the documents differ.
func (d *Diff) HasChanges() bool { return d.TotalChanges() > 0 }

// TotalChanges is the number of added, removed and modified records.
func (d *Diff) TotalChanges() int { return len(d.Added) + len(d.Removed) + len(d.Modified) }

// Summary renders the diff for humans, listing up to five names per kind.
func (d *Diff) Summary() string {
	if !d.HasChanges() {
		return fmt.Sprintf("No differences detected for %s", d.Category)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Differences for %s:", d.Category)
	writeKind(&sb, "Added", "+", d.Added)
	writeKind(&sb, "Removed", "-", d.Removed)
	writeKind(&sb, "Modified", "~", d.Modified)
	return sb.String()
}

func writeKind(sb *strings.Builder, label, marker string, doc legacy.Document) {
	if len(doc) == 0 {
		return
	}
	names := sortedNames(doc)
	fmt.Fprintf(sb, "\n  %s: %d models", label, len(names))
	for i, name := range names {
		if i == summaryLimit {
			fmt.Fprintf(sb, "\n    ... and %d more", len(names)-summaryLimit)
			break
		}
		fmt.Fprintf(sb, "\n    %s %s", marker, name)
	}
}

func sortedNames(doc legacy.Document) []string {
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
