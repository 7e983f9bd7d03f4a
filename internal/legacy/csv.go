package legacy

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

// TextCSVColumns is the fixed column order of the text_generation CSV.
var TextCSVColumns = []string{
	"name", "parameters_bn", "description", "version", "style", "nsfw",
	"baseline", "url", "tags", "settings", "display_name",
}

var (
	dashUnderscore = regexp.MustCompile(`[-_]`)
	multiSpace     = regexp.MustCompile(` +`)
)

// TextRow is one parsed row of the text_generation CSV.
type TextRow struct {
	Name         string
	ParametersBn float64
	Parameters   int64
	Description  string
	Version      string
	Style        string
	NSFW         bool
	Baseline     string
	URL          string
	Tags         []string
	Settings     map[string]any
	DisplayName  string
}

// RowIssue is a problem found while parsing a CSV row.
type RowIssue struct {
	Row     string
	Message string
}

// TextEntry is the legacy JSON shape of a text model.
type TextEntry struct {
	Name        string         `json:"name"`
	ModelName   string         `json:"model_name,omitempty"`
	Parameters  int64          `json:"parameters,omitempty"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Style       string         `json:"style,omitempty"`
	NSFW        bool           `json:"nsfw"`
	Baseline    string         `json:"baseline,omitempty"`
	URL         string         `json:"url,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
}

// ParseTextCSV reads text_generation rows. Rows without a name or with an
// unparseable parameter count or settings are skipped and reported.
func ParseTextCSV(r io.Reader) ([]TextRow, []RowIssue, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []TextRow
	var issues []RowIssue
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		name := strings.TrimSpace(field(rec, "name"))
		if name == "" {
			issues = append(issues, RowIssue{fmt.Sprintf("<row %d>", line), "missing required 'name' field; row skipped"})
			continue
		}

		var bn float64
		if s := strings.TrimSpace(field(rec, "parameters_bn")); s == "" {
			issues = append(issues, RowIssue{name, "missing parameters_bn; defaulting to 0"})
		} else if bn, err = strconv.ParseFloat(s, 64); err != nil {
			issues = append(issues, RowIssue{name, "invalid parameters_bn value; row skipped"})
			continue
		}

		var settings map[string]any
		if s := strings.TrimSpace(field(rec, "settings")); s != "" {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				issues = append(issues, RowIssue{name, "invalid settings JSON; row skipped"})
				continue
			}
			m, ok := parsed.(map[string]any)
			if !ok || !settingsValid(m) {
				issues = append(issues, RowIssue{name, "invalid settings structure; only primitive values or lists thereof are supported"})
				continue
			}
			settings = m
		}

		var tags []string
		for _, t := range strings.Split(field(rec, "tags"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}

		rows = append(rows, TextRow{
			Name:         name,
			ParametersBn: bn,
			Parameters:   int64(bn * 1_000_000_000),
			Description:  field(rec, "description"),
			Version:      field(rec, "version"),
			Style:        field(rec, "style"),
			NSFW:         strings.ToLower(strings.TrimSpace(field(rec, "nsfw"))) == "true",
			Baseline:     field(rec, "baseline"),
			URL:          field(rec, "url"),
			Tags:         tags,
			Settings:     settings,
			DisplayName:  field(rec, "display_name"),
		})
	}
	return rows, issues, nil
}

// ReadTextCSVFile parses a CSV file. A missing file yields no rows.
func ReadTextCSVFile(path string) ([]TextRow, []RowIssue, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ParseTextCSV(f)
}

func settingsValid(m map[string]any) bool {
	for _, v := range m {
		switch val := v.(type) {
		case string, float64, bool:
		case []any:
			for _, item := range val {
				switch item.(type) {
				case string, float64, bool:
				default:
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// TextModelName is the part of a model name after its organisation.
func TextModelName(name string) string {
	if parts := strings.Split(name, "/"); len(parts) > 1 {
		return parts[1]
	}
	return name
}

// AutoDisplayName derives the display name used when none is given.
func AutoDisplayName(modelName string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(dashUnderscore.ReplaceAllString(modelName, " "), " "))
}

// SizeTag is the "<N>B" tag derived from a parameter count in billions.
func SizeTag(bn float64) string {
	return fmt.Sprintf("%.0fB", math.RoundToEven(bn))
}

// Entry builds the legacy JSON entry of a row, adding the style and size
// tags and a default display name.
func (row TextRow) Entry() TextEntry {
	modelName := TextModelName(row.Name)

	tagSet := make(map[string]struct{}, len(row.Tags)+2)
	for _, t := range row.Tags {
		tagSet[t] = struct{}{}
	}
	if row.Style != "" {
		tagSet[row.Style] = struct{}{}
	}
	tagSet[SizeTag(row.ParametersBn)] = struct{}{}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	display := row.DisplayName
	if display == "" {
		display = AutoDisplayName(modelName)
	}

	return TextEntry{
		Name:        row.Name,
		ModelName:   modelName,
		Parameters:  row.Parameters,
		Description: row.Description,
		Version:     row.Version,
		Style:       row.Style,
		NSFW:        row.NSFW,
		Baseline:    row.Baseline,
		URL:         row.URL,
		Tags:        tags,
		Settings:    row.Settings,
		DisplayName: display,
	}
}

// ExpandTextRows builds the legacy document with the base entry and the
// aphrodite/ and koboldcpp/ duplicates of every row.
func ExpandTextRows(rows []TextRow) (Document, error) {
	doc := make(Document, len(rows)*3)
	for _, row := range rows {
		base := row.Entry()
		names := []string{
			base.Name,
			models.TextPrefixAphrodite + base.Name,
			models.TextPrefixKoboldCpp + base.ModelName,
		}
		for _, name := range names {
			entry := base
			entry.Name = name
			raw, err := json.Marshal(entry)
			if err != nil {
				return nil, err
			}
			doc[name] = raw
		}
	}
	return doc, nil
}

// GroupTextRows builds the legacy document with one entry per row.
func GroupTextRows(rows []TextRow) (Document, error) {
	doc := make(Document, len(rows))
	for _, row := range rows {
		raw, err := json.Marshal(row.Entry())
		if err != nil {
			return nil, err
		}
		doc[row.Name] = raw
	}
	return doc, nil
}

// WriteTextCSV writes the grouped CSV form of entries. Backend prefixed
// entries are dropped; the auto-generated tags and display names are
// stripped so they are not duplicated on the next read.
func WriteTextCSV(w io.Writer, entries map[string]TextEntry) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		if models.HasTextBackendPrefix(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cw := csv.NewWriter(w)
	if err := cw.Write(TextCSVColumns); err != nil {
		return err
	}
	for _, name := range names {
		e := entries[name]
		bn := float64(e.Parameters) / 1_000_000_000

		tags := make([]string, 0, len(e.Tags))
		sizeTag := SizeTag(bn)
		for _, t := range e.Tags {
			if t == sizeTag || (e.Style != "" && t == e.Style) {
				continue
			}
			tags = append(tags, t)
		}
		sort.Strings(tags)

		settings := ""
		if len(e.Settings) > 0 {
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(e.Settings); err != nil {
				return fmt.Errorf("encode settings for %s: %w", name, err)
			}
			settings = strings.TrimSuffix(buf.String(), "\n")
		}

		modelName := e.ModelName
		if modelName == "" {
			modelName = name
		}
		display := e.DisplayName
		if display == AutoDisplayName(modelName) {
			display = ""
		}

		if err := cw.Write([]string{
			name,
			fmt.Sprintf("%.1f", bn),
			e.Description,
			e.Version,
			e.Style,
			strconv.FormatBool(e.NSFW),
			e.Baseline,
			e.URL,
			strings.Join(tags, ","),
			settings,
			display,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeTextCSV renders the grouped CSV of a legacy text document.
func EncodeTextCSV(doc Document) ([]byte, error) {
	entries := make(map[string]TextEntry, len(doc))
	for name, raw := range doc {
		var e TextEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode text entry %s: %w", name, err)
		}
		entries[name] = e
	}
	var buf bytes.Buffer
	if err := WriteTextCSV(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTextCSV parses CSV bytes into the grouped legacy document.
func DecodeTextCSV(data []byte) (Document, []RowIssue, error) {
	rows, issues, err := ParseTextCSV(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	doc, err := GroupTextRows(rows)
	return doc, issues, err
}
