package legacy

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

var baselineNormalization = map[string]string{
	"stable diffusion 1":     models.BaselineStableDiffusion1,
	"stable diffusion 2":     models.BaselineStableDiffusion2,
	"stable diffusion 2 512": models.BaselineStableDiffusion512,
}

// NormalizeBaseline maps legacy baseline labels onto v2 baselines. Unknown
// labels pass through unchanged.
func NormalizeBaseline(b string) string {
	if n, ok := baselineNormalization[b]; ok {
		return n
	}
	return b
}

// LegacyBaseline is the inverse of NormalizeBaseline.
func LegacyBaseline(b string) string {
	for legacyLabel, normalized := range baselineNormalization {
		if normalized == b {
			return legacyLabel
		}
	}
	return b
}

type imageHooks struct {
	// showcases maps folder name to the sorted files found on disk.
	showcases map[string][]string
}

func (h *imageHooks) preParse(r *run) error {
	r.result.Baselines = make(map[string]int)
	r.result.Styles = make(map[string]int)
	r.result.Tags = make(map[string]int)

	found, err := scanShowcases(r.opts.Layout.ShowcaseDir())
	if err != nil {
		return err
	}
	h.showcases = found
	return nil
}

func scanShowcases(dir string) (map[string][]string, error) {
	out := make(map[string][]string)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan showcases: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan showcase %s: %w", e.Name(), err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if !f.IsDir() {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		out[models.ShowcaseFolderName(e.Name())] = names
	}
	return out, nil
}

func (h *imageHooks) convert(r *run, key string, rec *Record) (*models.ModelRecord, error) {
	baseline := NormalizeBaseline(rec.Baseline)
	if baseline != "" {
		r.result.Baselines[baseline]++
	}
	if rec.Style != nil && *rec.Style != "" {
		r.result.Styles[*rec.Style]++
	}
	for _, t := range rec.Tags {
		r.result.Tags[t]++
	}

	out := r.baseRecord(key, rec)
	out.Inpainting = rec.Inpainting
	out.Baseline = baseline
	out.Optimization = rec.Optimization
	out.Tags = rec.Tags
	out.MinBridgeVersion = rec.MinBridgeVersion
	out.Trigger = rec.Trigger
	out.Homepage = rec.Homepage
	out.NSFW = rec.NSFW
	out.Requirements = rec.Requirements
	out.SizeOnDiskBytes = rec.SizeOnDiskBytes
	if rec.Style != nil {
		out.Style = *rec.Style
	}
	out.Showcases = h.reconcileShowcases(r, key, rec.Showcases)
	return out, nil
}

// reconcileShowcases replaces the declared showcase list with the files that
// actually exist in the model's showcase folder.
func (h *imageHooks) reconcileShowcases(r *run, key string, declared []string) []string {
	folder := models.ShowcaseFolderName(key)
	onDisk, exists := h.showcases[folder]

	if len(declared) > 0 {
		switch {
		case !exists:
			r.issue(key, "is expected to have a showcase folder named "+folder)
		case len(onDisk) == 0:
			r.issue(key, "has no showcases defined on disk.")
		case len(declared) != len(onDisk):
			r.issue(key, "has a mismatch between defined showcases and the files present on disk.")
		}
		for _, s := range declared {
			if strings.Contains(s, "huggingface") {
				r.issue(key, "has a huggingface showcase.")
				break
			}
		}
	}

	if !exists || r.opts.ShowcaseURLBase == "" {
		return declared
	}
	if len(onDisk) == 0 {
		return nil
	}
	base := strings.TrimSuffix(r.opts.ShowcaseURLBase, "/")
	urls := make([]string, 0, len(onDisk))
	for _, f := range onDisk {
		urls = append(urls, base+"/showcase/"+folder+"/"+url.PathEscape(f))
	}
	return urls
}

func (h *imageHooks) postParse(r *run) error {
	expected := make(map[string]bool, len(r.records))
	for name := range r.records {
		expected[models.ShowcaseFolderName(name)] = true
	}
	folders := make([]string, 0, len(h.showcases))
	for f := range h.showcases {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	for _, folder := range folders {
		if len(h.showcases[folder]) == 0 {
			r.issues.AddRaw(folder, fmt.Sprintf("showcase folder '%s' is empty.", folder))
		}
		if !expected[folder] {
			r.issues.AddRaw(folder, fmt.Sprintf("folder '%s' is not in the model records.", folder))
		}
	}
	return nil
}
