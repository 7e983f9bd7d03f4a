package refsync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// maxParallelFetches bounds concurrent category comparisons.
const maxParallelFetches = 4

// Options configure a Syncer.
type Options struct {
	Primary Source
	GitHub  Source
	// Repos names the repository directories written by Export.
	Repos backends.GitHubRepos
	// OutputDir receives exported documents; empty disables Export.
	OutputDir string
	// MinChanges is the smallest diff of a category that Export writes.
	MinChanges int
	Logger     *slog.Logger
}

// Syncer compares PRIMARY and GitHub documents category by category.
type Syncer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Syncer.
func New(opts Options) *Syncer {
	if opts.MinChanges < 1 {
		opts.MinChanges = 1
	}
	if opts.Repos.Owner == "" {
		opts.Repos = backends.DefaultGitHubRepos
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{opts: opts, logger: opts.Logger}
}

// Report is the outcome of one comparison run.
type Report struct {
	// Diffs holds one entry per compared category, in request order.
	Diffs []*Diff
	// Failed holds the categories whose documents could not be fetched.
	Failed map[models.Category]error

	primary map[models.Category]legacy.Document
}

// TotalChanges sums the changes over every compared category.
func (r *Report) TotalChanges() int {
	n := 0
	for _, d := range r.Diffs {
		n += d.TotalChanges()
	}
	return n
}

// Compare fetches and diffs the given categories, or every category when
// none are given. A category that fails to fetch is reported in Failed and
// does not stop the others.
func (s *Syncer) Compare(ctx context.Context, categories []models.Category) (*Report, error) {
	if len(categories) == 0 {
		categories = models.AllCategories
	}
	diffs := make([]*Diff, len(categories))
	primaries := make([]legacy.Document, len(categories))

	var mu sync.Mutex
	failed := make(map[models.Category]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, c := range categories {
		g.Go(func() error {
			primary, github, err := s.fetchPair(gctx, c)
			if err != nil {
				s.logger.Error("Failed to fetch category for comparison", "category", c, "error", err)
				mu.Lock()
				failed[c] = err
				mu.Unlock()
				return nil
			}
			d := Compare(c, primary, github)
			s.logger.Debug("Category compared",
				"category", c,
				"primary_models", len(primary),
				"github_models", len(github),
				"added", len(d.Added),
				"removed", len(d.Removed),
				"modified", len(d.Modified))
			diffs[i], primaries[i] = d, primary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{Failed: failed, primary: make(map[models.Category]legacy.Document)}
	for i, d := range diffs {
		if d == nil {
			continue
		}
		report.Diffs = append(report.Diffs, d)
		report.primary[d.Category] = primaries[i]
	}
	s.logger.Info("Comparison complete",
		"categories", len(report.Diffs),
		"failed", len(failed),
		"total_changes", report.TotalChanges())
	return report, nil
}

func (s *Syncer) fetchPair(ctx context.Context, c models.Category) (legacy.Document, legacy.Document, error) {
	primary, err := s.opts.Primary.Legacy(ctx, c)
	if err != nil {
		return nil, nil, fmt.Errorf("primary: %w", err)
	}
	github, err := s.opts.GitHub.Legacy(ctx, c)
	if err != nil {
		return nil, nil, fmt.Errorf("github: %w", err)
	}
	return primary, github, nil
}

// ExportPath is where Export writes the document of c, mirroring the
// layout of the legacy repositories.
func (s *Syncer) ExportPath(c models.Category) string {
	if c.IsText() {
		return filepath.Join(s.opts.OutputDir, s.opts.Repos.TextRepo, "models.csv")
	}
	return filepath.Join(s.opts.OutputDir, s.opts.Repos.ImageRepo, c.LegacyFileName())
}

// Export writes the PRIMARY document of every category in report whose
// diff reaches MinChanges and returns the written paths.
func (s *Syncer) Export(report *Report) ([]string, error) {
	if s.opts.OutputDir == "" {
		return nil, nil
	}
	var written []string
	for _, d := range report.Diffs {
		if d.TotalChanges() < s.opts.MinChanges {
			if d.HasChanges() {
				s.logger.Info("Changes below threshold, not exporting",
					"category", d.Category,
					"changes", d.TotalChanges(),
					"threshold", s.opts.MinChanges)
			}
			continue
		}
		data, err := encodeForRepo(d.Category, report.primary[d.Category])
		if err != nil {
			return written, fmt.Errorf("encode %s: %w", d.Category, err)
		}
		path := s.ExportPath(d.Category)
		if err := atomicfile.Write(path, data, s.logger); err != nil {
			return written, err
		}
		s.logger.Info("Exported category", "category", d.Category, "path", path, "changes", d.TotalChanges())
		written = append(written, path)
	}
	return written, nil
}

func encodeForRepo(c models.Category, doc legacy.Document) ([]byte, error) {
	if c.IsText() {
		return legacy.EncodeTextCSV(doc)
	}
	return doc.Marshal()
}

// Run compares the categories and, unless dryRun is set, exports the
// drifted ones.
func (s *Syncer) Run(ctx context.Context, categories []models.Category, dryRun bool) (*Report, []string, error) {
	report, err := s.Compare(ctx, categories)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		return report, nil, nil
	}
	written, err := s.Export(report)
	return report, written, err
}
