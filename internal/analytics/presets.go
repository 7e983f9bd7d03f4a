package analytics

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownPreset is returned for an unrecognized audit filter preset.
var ErrUnknownPreset = errors.New("unknown audit preset")

// Preset names a predefined audit filter.
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	match       func(ModelAudit) bool
}

var presets = []Preset{
	{"deletion_candidates", "Models that are candidates for deletion (any flags, very low usage, or no workers)", func(m ModelAudit) bool {
		return m.AtRisk || m.UsagePercentage < LowUsageThreshold || m.WorkerCount == 0
	}},
	{"zero_usage", "Models with zero usage in the past month", func(m ModelAudit) bool { return m.UsageMonth == 0 }},
	{"no_workers", "Models with no active workers", func(m ModelAudit) bool { return m.WorkerCount == 0 }},
	{"missing_data", "Models missing a description or baseline", func(m ModelAudit) bool {
		return m.Flags.MissingDescription || m.Flags.MissingBaseline
	}},
	{"host_issues", "Models with download host problems", func(m ModelAudit) bool { return m.Flags.HostIssues() }},
	{"critical", "Models in critical state", func(m ModelAudit) bool { return m.Critical }},
	{"low_usage", "Models below the low usage share of their category", func(m ModelAudit) bool { return m.Flags.LowUsage }},
}

// Presets lists the available audit filter presets.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

func findPreset(name string) (Preset, error) {
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// View filters and pages a cached audit without modifying it. An empty
// preset keeps every model; a limit of zero disables paging.
func (a *CategoryAudit) View(preset string, offset, limit int) (*CategoryAudit, error) {
	selected := a.Models
	if preset != "" {
		p, err := findPreset(preset)
		if err != nil {
			return nil, err
		}
		selected = nil
		for _, m := range a.Models {
			if p.match(m) {
				selected = append(selected, m)
			}
		}
	}

	out := *a
	out.Offset = offset
	if offset > len(selected) {
		offset = len(selected)
	}
	end := len(selected)
	if limit > 0 {
		l := limit
		out.Limit = &l
		if offset+limit < end {
			end = offset + limit
		}
	} else {
		out.Limit = nil
	}
	out.Models = append([]ModelAudit(nil), selected[offset:end]...)
	out.ReturnedCount = len(out.Models)
	if preset != "" {
		out.Summary = Summarize(selected, a.CategoryTotalMonthUsage)
	}
	return &out, nil
}

// SortAudits orders audits by the named field, descending. Unknown fields
// keep the current order.
func SortAudits(audits []ModelAudit, field string) {
	var less func(i, j int) bool
	switch field {
	case "risk_score":
		less = func(i, j int) bool { return audits[i].RiskScore > audits[j].RiskScore }
	case "usage_month":
		less = func(i, j int) bool { return audits[i].UsageMonth > audits[j].UsageMonth }
	case "worker_count":
		less = func(i, j int) bool { return audits[i].WorkerCount > audits[j].WorkerCount }
	case "name":
		less = func(i, j int) bool { return audits[i].Name < audits[j].Name }
	default:
		return
	}
	sort.SliceStable(audits, less)
}
