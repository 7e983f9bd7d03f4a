package legacy

import "github.com/haidra-org/horde-model-reference/internal/models"

type textHooks struct{}

func (textHooks) preParse(*run) error  { return nil }
func (textHooks) postParse(*run) error { return nil }

func (textHooks) convert(r *run, key string, rec *Record) (*models.ModelRecord, error) {
	if rec.Parameters == nil {
		r.issue(key, "has no parameters count.")
	}

	out := r.baseRecord(key, rec)
	out.Baseline = rec.Baseline
	if rec.Parameters != nil {
		out.Parameters = *rec.Parameters
	}
	nsfw := rec.NSFW != nil && *rec.NSFW
	out.NSFW = &nsfw
	if rec.Style != nil {
		out.Style = *rec.Style
	}
	out.DisplayName = rec.DisplayName
	out.URL = rec.URL
	out.Tags = rec.Tags
	out.Settings = rec.Settings
	out.ModelName = rec.ModelName
	if out.ModelName == "" {
		out.ModelName = TextModelName(out.Name)
	}
	return out, nil
}
