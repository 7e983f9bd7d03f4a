package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ModelReference is the parsed form of one category document.
type ModelReference struct {
	Category Category
	Models   map[string]*ModelRecord

	mu      sync.Mutex
	keyHash uint64
	agg     *Aggregates
}

// Aggregates are derived counters over a reference. They are never persisted.
type Aggregates struct {
	Baselines map[string]int `json:"baselines"`
	Styles    map[string]int `json:"styles"`
	Tags      map[string]int `json:"tags"`
	Hosts     map[string]int `json:"hosts"`
}

// NewModelReference wraps parsed records of a category.
func NewModelReference(c Category, records map[string]*ModelRecord) *ModelReference {
	if records == nil {
		records = make(map[string]*ModelRecord)
	}
	return &ModelReference{Category: c, Models: records}
}

// ParseReference parses every record of a raw document. The document key is
// authoritative for the record name.
func ParseReference(c Category, doc RawDocument) (*ModelReference, error) {
	records := make(map[string]*ModelRecord, len(doc))
	for name, raw := range doc {
		var rec ModelRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse %s record %q: %w", c, name, err)
		}
		if rec.Name == "" {
			rec.Name = name
		}
		records[name] = &rec
	}
	return NewModelReference(c, records), nil
}

// Get returns the named record.
func (m *ModelReference) Get(name string) (*ModelRecord, bool) {
	r, ok := m.Models[name]
	return r, ok
}

// Names returns all model names, sorted.
func (m *ModelReference) Names() []string {
	names := make([]string, 0, len(m.Models))
	for n := range m.Models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of models.
func (m *ModelReference) Len() int { return len(m.Models) }

// Aggregates returns the derived counters, recomputing them if the set of
// model names changed since the last call.
func (m *ModelReference) Aggregates() *Aggregates {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := keySetHash(m.Models)
	if m.agg != nil && h == m.keyHash {
		return m.agg
	}
	m.agg = m.rebuild()
	m.keyHash = h
	return m.agg
}

func (m *ModelReference) rebuild() *Aggregates {
	a := &Aggregates{
		Baselines: make(map[string]int),
		Styles:    make(map[string]int),
		Tags:      make(map[string]int),
		Hosts:     make(map[string]int),
	}
	for _, rec := range m.Models {
		if rec.Baseline != "" {
			a.Baselines[rec.Baseline]++
		}
		if IsModelStyle(rec.Style) {
			a.Styles[rec.Style]++
		}
		for _, t := range rec.Tags {
			a.Tags[t]++
		}
		for _, h := range rec.DownloadHosts() {
			a.Hosts[h]++
		}
	}
	return a
}

// keySetHash is order independent: it XORs the hash of every key and mixes
// in the count.
func keySetHash(models map[string]*ModelRecord) uint64 {
	var h uint64
	for k := range models {
		h ^= xxhash.Sum64String(k)
	}
	return h ^ uint64(len(models))*0x9e3779b97f4a7c15
}

// MarshalJSON encodes the reference as its plain record map.
func (m *ModelReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Models)
}
