// Package legacy reads the legacy model reference formats and converts them
// into v2 category documents.
package legacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFatal marks a structural violation that aborts a whole category run.
var ErrFatal = errors.New("fatal legacy record violation")

// Document is a legacy category document keyed by model name.
type Document map[string]json.RawMessage

// FlexString accepts JSON strings and numbers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = FlexString(n.String())
	return nil
}

// ConfigFile is a checksummed reference file of a legacy record.
type ConfigFile struct {
	Path      string `json:"path"`
	MD5Sum    string `json:"md5sum,omitempty"`
	SHA256Sum string `json:"sha256sum,omitempty"`
	FileType  string `json:"file_type,omitempty"`
}

// ConfigDownload is a fetchable artifact of a legacy record.
type ConfigDownload struct {
	FileName  string  `json:"file_name"`
	FilePath  *string `json:"file_path,omitempty"`
	FileURL   string  `json:"file_url"`
	SHA256Sum string  `json:"sha256sum,omitempty"`
	FileType  string  `json:"file_type,omitempty"`
}

// Config is the legacy config block.
type Config struct {
	Files    []ConfigFile     `json:"files"`
	Download []ConfigDownload `json:"download"`

	keyCount int
}

// UnmarshalJSON enforces the structural rules of a config block.
func (c *Config) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.New("config entries must be provided as a mapping")
	}
	c.keyCount = len(raw)
	if v, ok := raw["files"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &c.Files); err != nil {
			return fmt.Errorf("config[files] must be a list of file entries: %w", err)
		}
	}
	if v, ok := raw["download"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &c.Download); err != nil {
			return fmt.Errorf("config[download] must be a list of download entries: %w", err)
		}
	}
	return nil
}

// MarshalJSON keeps both keys present, as the legacy format does.
func (c Config) MarshalJSON() ([]byte, error) {
	files, downloads := c.Files, c.Download
	if files == nil {
		files = []ConfigFile{}
	}
	if downloads == nil {
		downloads = []ConfigDownload{}
	}
	return json.Marshal(struct {
		Files    []ConfigFile     `json:"files"`
		Download []ConfigDownload `json:"download"`
	}{files, downloads})
}

// Record is a loosely typed legacy model record covering every category.
type Record struct {
	Name                 string     `json:"name"`
	Type                 string     `json:"type,omitempty"`
	Description          *string    `json:"description,omitempty"`
	Version              FlexString `json:"version,omitempty"`
	Style                *string    `json:"style,omitempty"`
	NSFW                 *bool      `json:"nsfw,omitempty"`
	DownloadAll          bool       `json:"download_all,omitempty"`
	Config               Config     `json:"config"`
	Available            bool       `json:"available,omitempty"`
	FeaturesNotSupported []string   `json:"features_not_supported,omitempty"`

	Inpainting       *bool          `json:"inpainting,omitempty"`
	Baseline         string         `json:"baseline,omitempty"`
	Optimization     string         `json:"optimization,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Showcases        []string       `json:"showcases,omitempty"`
	MinBridgeVersion int            `json:"min_bridge_version,omitempty"`
	Trigger          []string       `json:"trigger,omitempty"`
	Homepage         string         `json:"homepage,omitempty"`
	SizeOnDiskBytes  int64          `json:"size_on_disk_bytes,omitempty"`
	Requirements     map[string]any `json:"requirements,omitempty"`

	ModelName   string         `json:"model_name,omitempty"`
	Parameters  *int64         `json:"parameters,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	URL         string         `json:"url,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`

	PretrainedName string `json:"pretrained_name,omitempty"`
}

// DecodeRecord parses one legacy record. Any error is fatal for the run.
func DecodeRecord(key string, raw json.RawMessage) (*Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s: record must be an object", ErrFatal, key)
	}
	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFatal, key, err)
	}
	return &rec, nil
}

// DecodeDocument parses a legacy JSON document. Empty input is an empty
// document.
func DecodeDocument(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode legacy document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Marshal serializes the document with four-space indentation.
func (d Document) Marshal() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}
