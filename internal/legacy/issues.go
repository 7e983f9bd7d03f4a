package legacy

import (
	"encoding/json"
	"sort"
)

// IssueLog accumulates non-fatal validation issues per model key.
type IssueLog struct {
	entries map[string][]string
}

// NewIssueLog returns an empty log.
func NewIssueLog() *IssueLog {
	return &IssueLog{entries: make(map[string][]string)}
}

// Add records message for key, prefixed by the key itself.
func (l *IssueLog) Add(key, message string) {
	l.entries[key] = append(l.entries[key], key+" "+message)
}

// AddRaw records a pre-formatted message for key.
func (l *IssueLog) AddRaw(key, message string) {
	l.entries[key] = append(l.entries[key], message)
}

// For returns the issues of one key.
func (l *IssueLog) For(key string) []string { return l.entries[key] }

// Keys returns every key with at least one issue, sorted.
func (l *IssueLog) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of keys with issues.
func (l *IssueLog) Len() int { return len(l.entries) }

// Total is the number of issues across every key.
func (l *IssueLog) Total() int {
	n := 0
	for _, v := range l.entries {
		n += len(v)
	}
	return n
}

// MarshalJSON implements json.Marshaler.
func (l *IssueLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.entries)
}
