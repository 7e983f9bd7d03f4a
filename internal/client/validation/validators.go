// Package validation checks hmr-ctl arguments before they reach the service.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// ValidateCategory parses a category argument.
func ValidateCategory(s string) (models.Category, error) {
	c, err := models.ParseCategory(s)
	if err != nil {
		return "", fmt.Errorf("invalid category %q. Expected one of %v", s, models.AllCategories)
	}
	return c, nil
}

// ValidateLedger parses a metadata ledger argument.
func ValidateLedger(s string) (paths.Ledger, error) {
	switch l := paths.Ledger(s); l {
	case paths.LedgerV2, paths.LedgerLegacy:
		return l, nil
	}
	return "", fmt.Errorf("invalid ledger %q. Expected %q or %q", s, paths.LedgerV2, paths.LedgerLegacy)
}

// ReadModelDocument reads one model record from path, or from stdin when
// path is "-". The document must be a JSON object.
func ReadModelDocument(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model document: %w", err)
	}
	data = bytes.TrimSpace(data)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("model document must be a JSON object: %w", err)
	}
	return data, nil
}

// WithName makes raw carry name: a missing "name" is added as the first
// key, a different one is an error.
func WithName(raw json.RawMessage, name string) (json.RawMessage, error) {
	if err := models.ValidateModelName(name); err != nil {
		return nil, err
	}
	var named struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("model document must be a JSON object: %w", err)
	}
	if named.Name != nil {
		if *named.Name != name {
			return nil, fmt.Errorf("document name %q does not match model %q", *named.Name, name)
		}
		return raw, nil
	}

	quoted, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(raw[1:])
	out := append([]byte(`{"name":`), quoted...)
	if !bytes.Equal(body, []byte("}")) {
		out = append(out, ',')
	}
	return append(out, body...), nil
}
