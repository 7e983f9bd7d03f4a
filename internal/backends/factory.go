package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// Options select and configure the backend stack of a deployment.
type Options struct {
	Mode            ReplicateMode
	CanonicalFormat CanonicalFormat
	Layout          paths.Layout
	CacheTTL        time.Duration

	Repos            GitHubRepos
	RetryMaxAttempts int
	RetryBackoff     time.Duration
	SeedEnabled      bool

	PrimaryURL           string
	PrimaryTimeout       time.Duration
	EnableGitHubFallback bool

	UseRedis bool
	Redis    RedisOptions

	Metadata *metadata.Manager
	Logger   *slog.Logger
}

// New builds the backend for opts.Mode:
//   - PRIMARY: FileSystemBackend, seeded from GitHub when enabled, wrapped
//     by a RedisBackend when Redis is enabled
//   - REPLICA: HTTPBackend over a GitHubBackend fallback when a PRIMARY API
//     is configured, otherwise a GitHubBackend
func New(ctx context.Context, opts Options) (Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Repos.Owner == "" {
		opts.Repos = DefaultGitHubRepos
	}
	switch opts.Mode {
	case ModePrimary:
		return newPrimary(ctx, opts)
	case ModeReplica:
		return newReplica(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrWrongMode, opts.Mode)
	}
}

func newPrimary(ctx context.Context, opts Options) (Backend, error) {
	var recorder MetadataRecorder
	if opts.Metadata != nil {
		recorder = opts.Metadata
	}
	fs, err := NewFileSystemBackend(FileSystemOptions{
		Layout:          opts.Layout,
		Mode:            ModePrimary,
		CacheTTL:        opts.CacheTTL,
		CanonicalFormat: opts.CanonicalFormat,
		Metadata:        recorder,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if opts.SeedEnabled {
		gh, err := NewGitHubBackend(GitHubOptions{
			Layout:           opts.Layout,
			Mode:             ModePrimary,
			CacheTTL:         opts.CacheTTL,
			Repos:            opts.Repos,
			RetryMaxAttempts: opts.RetryMaxAttempts,
			RetryBackoff:     opts.RetryBackoff,
			SeedEnabled:      true,
			Logger:           opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if _, err := SeedPrimary(ctx, fs, gh, false, opts.Logger); err != nil {
			opts.Logger.Error("GitHub seeding failed", "error", err)
		}
	}

	if !opts.UseRedis {
		return fs, nil
	}
	ropts := opts.Redis
	if ropts.TTL <= 0 {
		ropts.TTL = opts.CacheTTL
	}
	if ropts.Metadata == nil {
		ropts.Metadata = opts.Metadata
	}
	if ropts.Logger == nil {
		ropts.Logger = opts.Logger
	}
	return NewRedisBackend(ctx, fs, ropts)
}

func newReplica(opts Options) (Backend, error) {
	gh, err := NewGitHubBackend(GitHubOptions{
		Layout:           opts.Layout,
		Mode:             ModeReplica,
		CacheTTL:         opts.CacheTTL,
		Repos:            opts.Repos,
		RetryMaxAttempts: opts.RetryMaxAttempts,
		RetryBackoff:     opts.RetryBackoff,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if opts.PrimaryURL == "" {
		opts.Logger.Info("Using GitHub backend", "mode", ModeReplica)
		return gh, nil
	}

	hopts := HTTPOptions{
		PrimaryURL:       opts.PrimaryURL,
		Timeout:          opts.PrimaryTimeout,
		RetryMaxAttempts: opts.RetryMaxAttempts,
		RetryBackoff:     opts.RetryBackoff,
		CacheTTL:         opts.CacheTTL,
		Logger:           opts.Logger,
	}
	if opts.EnableGitHubFallback {
		hopts.Fallback = gh
	}
	opts.Logger.Info("Using HTTP backend",
		"primary_url", opts.PrimaryURL,
		"github_fallback", opts.EnableGitHubFallback)
	return NewHTTPBackend(hopts)
}

// SeedPrimary downloads and converts from GitHub every category whose v2
// file is missing (all of them when force is set), then populates the
// metadata of the seeded categories. It returns the seeded categories.
func SeedPrimary(ctx context.Context, fs *FileSystemBackend, gh *GitHubBackend, force bool, logger *slog.Logger) ([]models.Category, error) {
	var missing []models.Category
	for _, c := range models.AllCategories {
		_, err := os.Stat(fs.CategoryFilePath(c))
		if force || errors.Is(err, os.ErrNotExist) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		logger.Debug("All categories present, skipping GitHub seeding")
		return nil, nil
	}

	logger.Info("Seeding categories from GitHub", "categories", missing)
	results, err := gh.Seed(ctx, missing)
	if err != nil {
		return nil, err
	}

	var seeded []models.Category
	for _, c := range missing {
		if results[c] != nil {
			continue
		}
		seeded = append(seeded, c)
		if _, err := fs.PopulateMetadata(ctx, c); err != nil {
			logger.Warn("Failed to populate metadata for seeded category", "category", c, "error", err)
		}
		fs.MarkStale(c)
	}
	return seeded, nil
}
