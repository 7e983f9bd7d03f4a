package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/atomicfile"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

var slowDownloadHosts = []string{"civitai"}

var standardConfigFiles = map[string]bool{
	"v2-inference-v.yaml": true,
	"v1-inference.yaml":   true,
}

// Options configure a Converter.
type Options struct {
	Layout paths.Layout
	// ShowcaseURLBase is the raw-content URL of the image repository; showcase
	// files are published under {ShowcaseURLBase}/showcase/{folder}/{file}.
	ShowcaseURLBase string
	// Debug writes validation logs and records debug-only issues.
	Debug bool
	// DryRun converts without writing anything.
	DryRun bool
	Logger *slog.Logger
}

// Result is the outcome of converting one category.
type Result struct {
	Category models.Category
	Records  map[string]*models.ModelRecord
	Document models.RawDocument
	Issues   *IssueLog
	Hosts    map[string]int
	// Baselines, Styles and Tags are only tracked for image_generation.
	Baselines map[string]int
	Styles    map[string]int
	Tags      map[string]int
	Written   bool
}

// Converter runs the legacy to v2 pipeline for one category at a time:
// pre-parse, per-record checks and conversion, post-parse, validation log
// and finally the all-or-nothing write.
type Converter struct {
	opts Options
}

// NewConverter creates a converter.
func NewConverter(opts Options) *Converter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Converter{opts: opts}
}

// hooks are the category specific passes of a run.
type hooks interface {
	preParse(r *run) error
	convert(r *run, key string, rec *Record) (*models.ModelRecord, error)
	postParse(r *run) error
}

// run is the mutable state of one conversion.
type run struct {
	category models.Category
	opts     Options
	issues   *IssueLog
	hosts    map[string]int
	records  map[string]*models.ModelRecord
	result   *Result
}

func (r *run) issue(key, message string) { r.issues.Add(key, message) }

func hooksFor(c models.Category) hooks {
	switch c {
	case models.CategoryImageGeneration:
		return &imageHooks{}
	case models.CategoryTextGeneration:
		return textHooks{}
	default:
		return genericHooks{}
	}
}

// LoadDocument reads the on-disk legacy document of a category. For
// text_generation the CSV is expanded with backend prefixed duplicates.
func (c *Converter) LoadDocument(category models.Category) (Document, []RowIssue, error) {
	if category == models.CategoryTextGeneration {
		rows, issues, err := ReadTextCSVFile(c.opts.Layout.LegacyCSVFile())
		if err != nil {
			return nil, nil, err
		}
		if rows == nil {
			if data, err := os.ReadFile(c.opts.Layout.LegacyJSONFile(category)); err == nil {
				doc, err := DecodeDocument(data)
				return doc, issues, err
			}
		}
		doc, err := ExpandTextRows(rows)
		return doc, issues, err
	}

	data, err := os.ReadFile(c.opts.Layout.LegacyFile(category))
	if err != nil {
		return nil, nil, fmt.Errorf("read legacy %s: %w", category, err)
	}
	doc, err := DecodeDocument(data)
	return doc, nil, err
}

// Convert loads and converts the on-disk legacy document of a category.
func (c *Converter) Convert(category models.Category) (*Result, error) {
	doc, rowIssues, err := c.LoadDocument(category)
	if err != nil {
		return nil, err
	}
	res, err := c.ConvertDocument(category, doc, rowIssues...)
	if err != nil {
		return res, err
	}
	return res, nil
}

// ConvertDocument converts an in-memory legacy document. On a fatal error
// nothing is written and the previous output is left untouched.
func (c *Converter) ConvertDocument(category models.Category, doc Document, rowIssues ...RowIssue) (*Result, error) {
	r := &run{
		category: category,
		opts:     c.opts,
		issues:   NewIssueLog(),
		hosts:    make(map[string]int),
		records:  make(map[string]*models.ModelRecord, len(doc)),
	}
	r.result = &Result{Category: category, Issues: r.issues, Hosts: r.hosts}
	for _, ri := range rowIssues {
		r.issues.AddRaw(ri.Row, ri.Row+" "+ri.Message)
	}

	h := hooksFor(category)
	if err := h.preParse(r); err != nil {
		return r.result, err
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rec, err := DecodeRecord(key, doc[key])
		if err != nil {
			r.issues.AddRaw(key, "CRITICAL: Error parsing "+key+": "+err.Error())
			c.opts.Logger.Error("Legacy conversion aborted", "category", category, "model", key, "error", err)
			return r.result, err
		}
		r.checkCommon(key, rec)
		converted, err := h.convert(r, key, rec)
		if err != nil {
			r.issues.AddRaw(key, "Failed to convert "+key+": "+err.Error())
			c.opts.Logger.Error("Legacy conversion aborted", "category", category, "model", key, "error", err)
			return r.result, err
		}
		r.records[key] = converted
	}

	if err := h.postParse(r); err != nil {
		return r.result, err
	}
	r.result.Records = r.records

	if err := c.writeValidationLog(r); err != nil {
		c.opts.Logger.Warn("Failed to write validation log", "category", category, "error", err)
	}
	if err := c.writeRecords(r); err != nil {
		return r.result, err
	}

	if c.opts.Debug {
		c.opts.Logger.Debug("Legacy conversion finished",
			"category", category,
			"models", len(r.records),
			"models_with_issues", r.issues.Len(),
			"hosts", r.hosts)
	}
	return r.result, nil
}

func (c *Converter) writeValidationLog(r *run) error {
	if c.opts.DryRun || !c.opts.Debug {
		return nil
	}
	data, err := json.MarshalIndent(r.issues, "", "    ")
	if err != nil {
		return err
	}
	return atomicfile.Write(c.opts.Layout.LogFile(r.category), data, c.opts.Logger)
}

// writeRecords validates every record before anything is serialized.
func (c *Converter) writeRecords(r *run) error {
	for name, rec := range r.records {
		if err := rec.Validate(true); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFatal, name, err)
		}
	}
	doc, err := models.EncodeRecords(r.records)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	r.result.Document = doc

	if c.opts.DryRun {
		return nil
	}
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	written, err := atomicfile.WriteIfChanged(c.opts.Layout.CategoryFile(r.category), data, c.opts.Logger)
	if err != nil {
		return fmt.Errorf("write converted %s: %w", r.category, err)
	}
	r.result.Written = written
	if !written {
		c.opts.Logger.Debug("No change to converted file, skipping write", "category", r.category)
	}
	return nil
}

// checkCommon records the issues shared by every category.
func (r *run) checkCommon(key string, rec *Record) {
	if rec.Name != key {
		r.issue(key, "name mismatch.")
	}
	if rec.Available {
		r.issue(key, "is flagged 'available'.")
	}
	if rec.DownloadAll && r.opts.Debug {
		r.issue(key, "has download_all set.")
	}
	if rec.Config.keyCount > 2 {
		r.issue(key, "has more than 2 config entries.")
	}
	if len(rec.Config.Download) == 0 {
		r.issue(key, "has no config.")
	}
	if rec.Description == nil {
		r.issue(key, "has no description.")
	}
	if rec.Style != nil && *rec.Style == "" {
		r.issue(key, "has no style.")
	}
	if allowed, ok := allowedTypes[r.category]; ok && rec.Type != "" && !allowed[rec.Type] {
		if r.category == models.CategoryImageGeneration {
			r.issue(key, "is not a ckpt!")
		} else {
			r.issue(key, fmt.Sprintf("has an unexpected type %q.", rec.Type))
		}
	}
}

var allowedTypes = map[models.Category]map[string]bool{
	models.CategoryImageGeneration: {"ckpt": true},
	models.CategoryBlip:            {"blip": true},
	models.CategoryClip:            {"clip": true, "coca": true},
	models.CategoryCodeformer:      {"CodeFormers": true},
	models.CategoryEsrgan:          {"realesrgan": true},
	models.CategoryGfpgan:          {"gfpgan": true},
	models.CategorySafetyChecker:   {"safety_checker": true},
	models.CategoryMiscellaneous:   {"layer_diffuse": true},
	models.CategoryControlnet: {
		"control_canny": true, "control_depth": true, "control_hed": true,
		"control_mlsd": true, "control_normal": true, "control_openpose": true,
		"control_fakescribbles": true, "control_scribble": true, "control_seg": true,
		"control_qr": true, "control_qr_xl": true,
	},
}

// convertConfig splits the legacy files/download lists into v2 download
// records. Checksums declared on a download win over those of a matching
// file entry; a missing checksum becomes the placeholder and is reported
// once. When files are listed, every download must name one of them.
func (r *run) convertConfig(key string, cfg Config) []models.DownloadRecord {
	fileChecksums := make(map[string]string)
	fileSeen := make(map[string]bool)
	declared := make(map[string]bool, len(cfg.Files))
	for _, f := range cfg.Files {
		if f.Path == "" {
			r.issue(key, "has a config file with no path.")
			continue
		}
		declared[f.Path] = true
		if path.Ext(f.Path) == ".yaml" {
			if !standardConfigFiles[path.Base(f.Path)] {
				r.issue(key, "has a non-standard config file.")
			}
			continue
		}
		if strings.Contains(f.Path, ".json") {
			continue
		}
		if !strings.Contains(f.Path, ".ckpt") {
			r.issue(key, "has a config file with an invalid path.")
		}
		fileSeen[f.Path] = true
		if f.SHA256Sum != "" {
			if len(f.SHA256Sum) != 64 {
				r.issue(key, "has a config file with an invalid sha256sum.")
			}
			fileChecksums[f.Path] = f.SHA256Sum
		}
	}

	downloads := make([]models.DownloadRecord, 0, len(cfg.Download))
	matched := make(map[string]bool)
	for _, d := range cfg.Download {
		if d.FilePath != nil && *d.FilePath != "" {
			r.issue(key, "has a download with a file_path.")
		}
		if d.FileName == "" {
			r.issue(key, "has a download with no file_name.")
			continue
		}
		if d.FileURL == "" {
			if r.category != models.CategoryClip {
				r.issue(key, "has a download with no file_url.")
			}
			continue
		}
		if host := models.HostOf(d.FileURL); host != "" {
			r.hosts[host]++
		}
		matched[d.FileName] = true
		if len(cfg.Files) > 0 && !declared[d.FileName] {
			r.issue(key, "has an unknown download entry.")
		}

		sum := d.SHA256Sum
		if sum == "" {
			sum = fileChecksums[d.FileName]
		}
		if sum == "" {
			sum = models.ChecksumPlaceholder
			r.issue(key, "has a config file with no sha256sum.")
		}

		downloads = append(downloads, models.DownloadRecord{
			FileName:          d.FileName,
			FileURL:           d.FileURL,
			SHA256Sum:         sum,
			FileType:          d.FileType,
			KnownSlowDownload: isSlowDownload(d.FileURL, d.FileName),
		})
	}

	for p := range fileSeen {
		if !matched[p] {
			r.issue(key, "has a config file with no matching download.")
		}
	}
	return downloads
}

func isSlowDownload(values ...string) bool {
	for _, v := range values {
		v = strings.ToLower(v)
		for _, host := range slowDownloadHosts {
			if strings.Contains(v, host) {
				return true
			}
		}
	}
	return false
}

// baseRecord converts the fields every category shares.
func (r *run) baseRecord(key string, rec *Record) *models.ModelRecord {
	name := rec.Name
	if name == "" {
		name = key
	}
	out := &models.ModelRecord{
		Name:                 name,
		Version:              string(rec.Version),
		ModelClassification:  models.ClassificationFor(r.category),
		FeaturesNotSupported: rec.FeaturesNotSupported,
		Config:               map[string][]models.DownloadRecord{},
	}
	if rec.Description != nil {
		out.Description = *rec.Description
	}
	if downloads := r.convertConfig(key, rec.Config); len(downloads) > 0 {
		out.Config["download"] = downloads
	}
	return out
}

type genericHooks struct{}

func (genericHooks) preParse(*run) error  { return nil }
func (genericHooks) postParse(*run) error { return nil }

func (genericHooks) convert(r *run, key string, rec *Record) (*models.ModelRecord, error) {
	out := r.baseRecord(key, rec)
	switch r.category {
	case models.CategoryClip:
		out.PretrainedName = rec.PretrainedName
	case models.CategoryControlnet:
		out.Style = rec.Type
	}
	return out, nil
}

// IsFatal reports whether err aborted a run for structural reasons.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
