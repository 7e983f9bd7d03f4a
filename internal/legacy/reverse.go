package legacy

import (
	"encoding/json"
	"fmt"

	"github.com/haidra-org/horde-model-reference/internal/models"
)

var legacyTypes = map[models.Category]string{
	models.CategoryImageGeneration: "ckpt",
	models.CategoryBlip:            "blip",
	models.CategoryClip:            "clip",
	models.CategoryCodeformer:      "CodeFormers",
	models.CategoryEsrgan:          "realesrgan",
	models.CategoryGfpgan:          "gfpgan",
	models.CategorySafetyChecker:   "safety_checker",
	models.CategoryMiscellaneous:   "layer_diffuse",
}

// FromV2 renders a v2 record in the legacy JSON shape of its category.
func FromV2(category models.Category, rec *models.ModelRecord) (json.RawMessage, error) {
	if category == models.CategoryTextGeneration {
		entry := TextEntry{
			Name:        rec.Name,
			ModelName:   rec.ModelName,
			Parameters:  rec.Parameters,
			Description: rec.Description,
			Version:     rec.Version,
			Style:       rec.Style,
			NSFW:        rec.IsNSFW(),
			Baseline:    rec.Baseline,
			URL:         rec.URL,
			Tags:        rec.Tags,
			Settings:    rec.Settings,
			DisplayName: rec.DisplayName,
		}
		if entry.ModelName == "" {
			entry.ModelName = TextModelName(rec.Name)
		}
		return json.Marshal(entry)
	}

	out := Record{
		Name:                 rec.Name,
		Type:                 legacyTypes[category],
		Version:              FlexString(rec.Version),
		NSFW:                 rec.NSFW,
		FeaturesNotSupported: rec.FeaturesNotSupported,
		PretrainedName:       rec.PretrainedName,
	}
	if rec.Description != "" {
		d := rec.Description
		out.Description = &d
	}
	if rec.Style != "" {
		s := rec.Style
		out.Style = &s
	}
	if category == models.CategoryControlnet {
		out.Type = rec.Style
		out.Style = nil
	}
	if category == models.CategoryImageGeneration {
		out.Inpainting = rec.Inpainting
		out.Baseline = LegacyBaseline(rec.Baseline)
		out.Optimization = rec.Optimization
		out.Tags = rec.Tags
		out.Showcases = rec.Showcases
		out.MinBridgeVersion = rec.MinBridgeVersion
		out.Trigger = rec.Trigger
		out.Homepage = rec.Homepage
		out.Requirements = rec.Requirements
		out.SizeOnDiskBytes = rec.SizeOnDiskBytes
	}
	for _, d := range rec.Downloads() {
		empty := ""
		out.Config.Download = append(out.Config.Download, ConfigDownload{
			FileName: d.FileName,
			FilePath: &empty,
			FileURL:  d.FileURL,
		})
		file := ConfigFile{Path: d.FileName, FileType: d.FileType}
		if d.SHA256Sum != models.ChecksumPlaceholder {
			file.SHA256Sum = d.SHA256Sum
		}
		out.Config.Files = append(out.Config.Files, file)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode legacy %s record %s: %w", category, rec.Name, err)
	}
	return raw, nil
}
