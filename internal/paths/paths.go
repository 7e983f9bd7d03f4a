// Package paths maps categories to their files under a base directory.
package paths

import (
	"path/filepath"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

// Ledger selects the legacy or v2 metadata ledger.
type Ledger string

const (
	LedgerLegacy Ledger = "legacy"
	LedgerV2     Ledger = "v2"
)

// Layout resolves every on-disk location under a base path.
type Layout struct {
	Base string
}

// New returns a layout rooted at base.
func New(base string) Layout { return Layout{Base: base} }

// CategoryFile is the v2 JSON document of a category.
func (l Layout) CategoryFile(c models.Category) string {
	return filepath.Join(l.Base, string(c)+".json")
}

// LegacyDir holds the legacy documents.
func (l Layout) LegacyDir() string { return filepath.Join(l.Base, "legacy") }

// LegacyFile is the legacy document of a category. text_generation uses CSV.
func (l Layout) LegacyFile(c models.Category) string {
	if c == models.CategoryTextGeneration {
		return l.LegacyCSVFile()
	}
	return filepath.Join(l.LegacyDir(), string(c)+".json")
}

// LegacyJSONFile is the downloaded legacy JSON of a category, regardless of
// the canonical legacy format.
func (l Layout) LegacyJSONFile(c models.Category) string {
	return filepath.Join(l.LegacyDir(), string(c)+".json")
}

// LegacyCSVFile is the legacy text_generation CSV.
func (l Layout) LegacyCSVFile() string { return filepath.Join(l.LegacyDir(), "models.csv") }

// MetadataFile is the ledger file of a category.
func (l Layout) MetadataFile(ledger Ledger, c models.Category) string {
	return filepath.Join(l.Base, "meta", string(ledger), string(c)+"_metadata.json")
}

// ShowcaseDir is the root of the showcase folders.
func (l Layout) ShowcaseDir() string { return filepath.Join(l.Base, "showcase") }

// ShowcaseFolder is the showcase folder of a model.
func (l Layout) ShowcaseFolder(modelName string) string {
	return filepath.Join(l.ShowcaseDir(), models.ShowcaseFolderName(modelName))
}

// LogFile is the conversion validation log of a category.
func (l Layout) LogFile(c models.Category) string {
	return filepath.Join(l.Base, "logs", string(c)+".log")
}
