package metadata

import (
	"context"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

// StampRecord sets the update fields of rec and carries the creation
// fields over from existing, when there is one.
func StampRecord(rec, existing *models.ModelRecord, actor string, now time.Time) {
	if rec.Metadata == nil {
		rec.Metadata = &models.RecordMetadata{}
	}
	PreserveCreationFields(rec, existing)

	ts := now.Unix()
	if rec.Metadata.SchemaVersion == "" {
		rec.Metadata.SchemaVersion = SchemaVersion
	}
	if rec.Metadata.CreatedAt == 0 {
		rec.Metadata.CreatedAt = ts
	}
	if rec.Metadata.CreatedBy == "" {
		rec.Metadata.CreatedBy = actor
	}
	rec.Metadata.UpdatedAt = ts
	rec.Metadata.UpdatedBy = actor
}

// PreserveCreationFields copies created_at and created_by from existing.
func PreserveCreationFields(rec, existing *models.ModelRecord) {
	if existing == nil || existing.Metadata == nil {
		return
	}
	if rec.Metadata == nil {
		rec.Metadata = &models.RecordMetadata{}
	}
	if existing.Metadata.CreatedAt != 0 {
		rec.Metadata.CreatedAt = existing.Metadata.CreatedAt
	}
	if existing.Metadata.CreatedBy != "" {
		rec.Metadata.CreatedBy = existing.Metadata.CreatedBy
	}
}

type actorKey struct{}

// WithActor attaches the name of the user performing a write to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or "system".
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}
