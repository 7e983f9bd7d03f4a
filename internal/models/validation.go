package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var showcaseUnsafe = regexp.MustCompile(`[^a-z0-9]`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate checks the record's structural invariants. Placeholder checksums
// are accepted only when allowPlaceholder is set.
func (r *ModelRecord) Validate(allowPlaceholder bool) error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Description, validation.Length(0, 8192)),
	)
	if err != nil {
		return toValidationError(err)
	}
	for i, d := range r.Downloads() {
		field := fmt.Sprintf("config.download[%d]", i)
		if err := d.validate(allowPlaceholder); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
	}
	return nil
}

func (d DownloadRecord) validate(allowPlaceholder bool) error {
	rules := []validation.Rule{validation.Required}
	if !allowPlaceholder {
		rules = append(rules, validation.NotIn(ChecksumPlaceholder).Error("checksum placeholder is not allowed"))
	}
	return validation.ValidateStruct(&d,
		validation.Field(&d.FileName, validation.Required),
		validation.Field(&d.FileURL, validation.Required),
		validation.Field(&d.SHA256Sum, rules...),
	)
}

// toValidationError flattens an ozzo error map into the first failing field.
func toValidationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	for field, fe := range errs {
		return &ValidationError{Field: field, Message: fe.Error()}
	}
	return err
}

// ValidateModelName checks a model name used as a document key.
func ValidateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > 256 {
		return &ValidationError{Field: "name", Message: "name must be at most 256 characters"}
	}
	return nil
}

// ShowcaseFolderName derives the on-disk showcase folder of a model.
func ShowcaseFolderName(modelName string) string {
	name := strings.ReplaceAll(strings.ToLower(modelName), "'", "")
	return showcaseUnsafe.ReplaceAllString(name, "_")
}
