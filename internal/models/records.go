package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ChecksumPlaceholder marks a download whose checksum is not yet known.
const ChecksumPlaceholder = "FIXME"

// DownloadRecord is a single fetchable artifact of a model.
type DownloadRecord struct {
	FileName          string `json:"file_name"`
	FileURL           string `json:"file_url"`
	SHA256Sum         string `json:"sha256sum"`
	FileType          string `json:"file_type,omitempty"`
	KnownSlowDownload bool   `json:"known_slow_download,omitempty"`
}

// ModelRecord is the v2 description of one model. Category specific fields
// are left empty for categories that do not use them.
type ModelRecord struct {
	Name                 string                      `json:"name"`
	Description          string                      `json:"description,omitempty"`
	Version              string                      `json:"version,omitempty"`
	Config               map[string][]DownloadRecord `json:"config"`
	ModelClassification  Classification              `json:"model_classification"`
	FeaturesNotSupported []string                    `json:"features_not_supported,omitempty"`

	// image_generation
	Inpainting       *bool          `json:"inpainting,omitempty"`
	Baseline         string         `json:"baseline,omitempty"`
	Optimization     string         `json:"optimization,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Showcases        []string       `json:"showcases,omitempty"`
	MinBridgeVersion int            `json:"min_bridge_version,omitempty"`
	Trigger          []string       `json:"trigger,omitempty"`
	Homepage         string         `json:"homepage,omitempty"`
	NSFW             *bool          `json:"nsfw,omitempty"`
	Style            string         `json:"style,omitempty"`
	Requirements     map[string]any `json:"requirements,omitempty"`
	SizeOnDiskBytes  int64          `json:"size_on_disk_bytes,omitempty"`

	// text_generation
	Parameters  int64          `json:"parameters,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	URL         string         `json:"url,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	ModelName   string         `json:"model_name,omitempty"`

	// clip
	PretrainedName string `json:"pretrained_name,omitempty"`

	Metadata *RecordMetadata `json:"metadata,omitempty"`
}

// RecordMetadata tracks who created and last changed a record.
type RecordMetadata struct {
	SchemaVersion string `json:"schema_version,omitempty"`
	CreatedAt     int64  `json:"created_at,omitempty"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	UpdatedBy     string `json:"updated_by,omitempty"`
}

// Downloads returns the "download" group of the record's config.
func (r *ModelRecord) Downloads() []DownloadRecord {
	if r.Config == nil {
		return nil
	}
	return r.Config["download"]
}

// DownloadHosts returns the distinct hosts of every download URL, sorted.
func (r *ModelRecord) DownloadHosts() []string {
	seen := make(map[string]struct{})
	for _, d := range r.Downloads() {
		if h := HostOf(d.FileURL); h != "" {
			seen[h] = struct{}{}
		}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// IsNSFW reports the record's nsfw flag, false when unset.
func (r *ModelRecord) IsNSFW() bool { return r.NSFW != nil && *r.NSFW }

// IsInpainting reports the record's inpainting flag, false when unset.
func (r *ModelRecord) IsInpainting() bool { return r.Inpainting != nil && *r.Inpainting }

// RawDocument is a category document keyed by model name, kept unparsed.
type RawDocument map[string]json.RawMessage

// DecodeRawDocument parses a category document without interpreting records.
func DecodeRawDocument(data []byte) (RawDocument, error) {
	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode category document: %w", err)
	}
	if doc == nil {
		doc = RawDocument{}
	}
	return doc, nil
}

// Names returns the document's model names, sorted.
func (d RawDocument) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Marshal serializes the document with four-space indentation and a
// trailing newline.
func (d RawDocument) Marshal() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Clone returns a shallow copy of the document.
func (d RawDocument) Clone() RawDocument {
	out := make(RawDocument, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// EncodeRecords turns parsed records into a raw document.
func EncodeRecords(records map[string]*ModelRecord) (RawDocument, error) {
	doc := make(RawDocument, len(records))
	for name, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", name, err)
		}
		doc[name] = raw
	}
	return doc, nil
}

// HostOf returns the lower-cased host part of a URL, or "".
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
