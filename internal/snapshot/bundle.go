// Package snapshot pushes the category documents of a deployment to a
// remote target and restores them into a base path.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// SchemaVersion is the bundle format version.
const SchemaVersion = "1"

// Bundle is every category document of a deployment at one point in time.
// Digest covers Categories and Legacy.
type Bundle struct {
	SchemaVersion string                                 `json:"schema_version"`
	CreatedAt     int64                                  `json:"created_at"`
	Source        string                                 `json:"source"`
	Categories    map[models.Category]models.RawDocument `json:"categories"`
	Legacy        map[models.Category]json.RawMessage    `json:"legacy,omitempty"`
	Digest        digest.Digest                          `json:"digest"`
}

// Source is what a bundle is captured from; every backend satisfies it.
type Source interface {
	Name() string
	FetchAllCategories(ctx context.Context, force bool) (map[models.Category]models.RawDocument, error)
	LegacyJSONString(ctx context.Context, c models.Category, redownload bool) (string, error)
}

// Capture collects every available category document from src. Legacy
// documents are included when the source has them.
func Capture(ctx context.Context, src Source, logger *slog.Logger) (*Bundle, error) {
	docs, err := src.FetchAllCategories(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}

	b := &Bundle{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().Unix(),
		Source:        src.Name(),
		Categories:    make(map[models.Category]models.RawDocument),
		Legacy:        make(map[models.Category]json.RawMessage),
	}
	for c, doc := range docs {
		if doc == nil {
			logger.Warn("Category unavailable, leaving it out of the snapshot", "category", c)
			continue
		}
		b.Categories[c] = doc
	}
	for _, c := range models.AllCategories {
		s, err := src.LegacyJSONString(ctx, c, false)
		if err != nil || s == "" || !json.Valid([]byte(s)) {
			logger.Debug("No legacy document for category", "category", c)
			continue
		}
		b.Legacy[c] = json.RawMessage(s)
	}
	if err := b.seal(); err != nil {
		return nil, err
	}
	logger.Info("Snapshot captured",
		"source", b.Source,
		"categories", len(b.Categories),
		"legacy", len(b.Legacy),
		"digest", b.Digest)
	return b, nil
}

func (b *Bundle) payloadDigest() (digest.Digest, error) {
	categories, legacy := b.Categories, b.Legacy
	if categories == nil {
		categories = map[models.Category]models.RawDocument{}
	}
	if legacy == nil {
		legacy = map[models.Category]json.RawMessage{}
	}
	// json.Marshal sorts map keys and compacts raw messages, so the payload
	// is canonical.
	data, err := json.Marshal(struct {
		Categories map[models.Category]models.RawDocument `json:"categories"`
		Legacy     map[models.Category]json.RawMessage    `json:"legacy"`
	}{categories, legacy})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot payload: %w", err)
	}
	return digest.FromBytes(data), nil
}

func (b *Bundle) seal() error {
	d, err := b.payloadDigest()
	if err != nil {
		return err
	}
	b.Digest = d
	return nil
}

// Encode serializes the bundle.
func (b *Bundle) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Decode parses a bundle and verifies its digest.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot (corrupted JSON): %w", err)
	}
	if b.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %q", b.SchemaVersion)
	}
	if err := b.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot digest: %w", err)
	}
	got, err := b.payloadDigest()
	if err != nil {
		return nil, err
	}
	if got != b.Digest {
		return nil, fmt.Errorf("snapshot digest mismatch: recorded %s, computed %s", b.Digest, got)
	}
	return &b, nil
}

// RestoreResult lists what Restore wrote.
type RestoreResult struct {
	Written   []models.Category
	Unchanged []models.Category
	Legacy    []models.Category
}

// Restore writes the bundle's documents under layout. Identical files are
// left untouched so their mtimes are preserved.
func Restore(b *Bundle, layout paths.Layout, logger *slog.Logger) (*RestoreResult, error) {
	res := &RestoreResult{}
	for _, c := range sortedCategories(b.Categories) {
		data, err := b.Categories[c].Marshal()
		if err != nil {
			return res, fmt.Errorf("encode %s: %w", c, err)
		}
		written, err := atomicfile.WriteIfChanged(layout.CategoryFile(c), data, logger)
		if err != nil {
			return res, fmt.Errorf("restore %s: %w", c, err)
		}
		if written {
			res.Written = append(res.Written, c)
		} else {
			res.Unchanged = append(res.Unchanged, c)
		}
	}
	for _, c := range sortedCategories(b.Legacy) {
		if _, err := atomicfile.WriteIfChanged(layout.LegacyJSONFile(c), b.Legacy[c], logger); err != nil {
			return res, fmt.Errorf("restore legacy %s: %w", c, err)
		}
		res.Legacy = append(res.Legacy, c)
	}
	logger.Info("Snapshot restored",
		"base_path", layout.Base,
		"written", len(res.Written),
		"unchanged", len(res.Unchanged),
		"legacy", len(res.Legacy))
	return res, nil
}

func sortedCategories[V any](m map[models.Category]V) []models.Category {
	out := make([]models.Category, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Push captures src and stores it in target.
func Push(ctx context.Context, src Source, target Target, logger *slog.Logger) (*Bundle, error) {
	b, err := Capture(ctx, src, logger)
	if err != nil {
		return nil, err
	}
	data, err := b.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := target.Push(ctx, data); err != nil {
		return nil, err
	}
	return b, nil
}

// Pull fetches the snapshot in target and restores it under layout.
func Pull(ctx context.Context, target Target, layout paths.Layout, logger *slog.Logger) (*RestoreResult, error) {
	data, err := target.Pull(ctx)
	if err != nil {
		return nil, err
	}
	b, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Restore(b, layout, logger)
}
