package models

import (
	"fmt"
	"strings"
)

// Category identifies one model reference document.
type Category string

// Known categories.
const (
	CategoryBlip            Category = "blip"
	CategoryClip            Category = "clip"
	CategoryCodeformer      Category = "codeformer"
	CategoryControlnet      Category = "controlnet"
	CategoryEsrgan          Category = "esrgan"
	CategoryGfpgan          Category = "gfpgan"
	CategorySafetyChecker   Category = "safety_checker"
	CategoryImageGeneration Category = "image_generation"
	CategoryTextGeneration  Category = "text_generation"
	CategoryMiscellaneous   Category = "miscellaneous"
)

// AllCategories lists every category in canonical order.
var AllCategories = []Category{
	CategoryBlip,
	CategoryClip,
	CategoryCodeformer,
	CategoryControlnet,
	CategoryEsrgan,
	CategoryGfpgan,
	CategorySafetyChecker,
	CategoryImageGeneration,
	CategoryTextGeneration,
	CategoryMiscellaneous,
}

// ParseCategory converts a string into a Category. "stable_diffusion" is
// accepted as an alias of image_generation.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "stable_diffusion" {
		return CategoryImageGeneration, nil
	}
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", s)}
}

func (c Category) String() string { return string(c) }

// LegacyFileName is the file name used for the category in the legacy
// GitHub repositories.
func (c Category) LegacyFileName() string {
	switch c {
	case CategoryImageGeneration:
		return "stable_diffusion.json"
	case CategoryTextGeneration:
		return "db.json"
	default:
		return string(c) + ".json"
	}
}

// IsText reports whether the category lives in the text repository.
func (c Category) IsText() bool { return c == CategoryTextGeneration }

// Domain is the broad modality of a model.
type Domain string

const (
	DomainImage      Domain = "image"
	DomainText       Domain = "text"
	DomainVideo      Domain = "video"
	DomainAudio      Domain = "audio"
	DomainRendered3D Domain = "rendered_3d"
)

// Purpose describes what a model is used for.
type Purpose string

const (
	PurposeGeneration       Purpose = "generation"
	PurposePostProcessing   Purpose = "post_processing"
	PurposeAuxiliaryOrPatch Purpose = "auxiliary_or_patch"
	PurposeFeatureExtractor Purpose = "feature_extractor"
	PurposeSafetyChecker    Purpose = "safety_checker"
	PurposeMiscellaneous    Purpose = "miscellaneous"
)

// Classification pairs a domain with a purpose.
type Classification struct {
	Domain  Domain  `json:"domain"`
	Purpose Purpose `json:"purpose"`
}

var classifications = map[Category]Classification{
	CategoryBlip:            {DomainImage, PurposeFeatureExtractor},
	CategoryClip:            {DomainImage, PurposeFeatureExtractor},
	CategoryCodeformer:      {DomainImage, PurposeFeatureExtractor},
	CategoryControlnet:      {DomainImage, PurposeAuxiliaryOrPatch},
	CategoryEsrgan:          {DomainImage, PurposePostProcessing},
	CategoryGfpgan:          {DomainImage, PurposePostProcessing},
	CategorySafetyChecker:   {DomainImage, PurposePostProcessing},
	CategoryImageGeneration: {DomainImage, PurposeGeneration},
	CategoryTextGeneration:  {DomainText, PurposeGeneration},
	CategoryMiscellaneous:   {DomainImage, PurposeMiscellaneous},
}

// ClassificationFor returns the fixed classification of a category.
func ClassificationFor(c Category) Classification {
	if cl, ok := classifications[c]; ok {
		return cl
	}
	return Classification{DomainImage, PurposeMiscellaneous}
}

// Model styles.
const (
	StyleGeneralist = "generalist"
	StyleAnime      = "anime"
	StyleFurry      = "furry"
	StyleArtistic   = "artistic"
	StyleOther      = "other"
	StyleRealistic  = "realistic"
)

var modelStyles = map[string]bool{
	StyleGeneralist: true, StyleAnime: true, StyleFurry: true,
	StyleArtistic: true, StyleOther: true, StyleRealistic: true,
}

// IsModelStyle reports whether s is one of the known model styles.
func IsModelStyle(s string) bool { return modelStyles[s] }

// Known image generation baselines.
const (
	BaselineInfer              = "infer"
	BaselineStableDiffusion1   = "stable_diffusion_1"
	BaselineStableDiffusion2   = "stable_diffusion_2_768"
	BaselineStableDiffusion512 = "stable_diffusion_2_512"
	BaselineStableDiffusionXL  = "stable_diffusion_xl"
	BaselineStableCascade      = "stable_cascade"
	BaselineFlux1              = "flux_1"
	BaselineFluxSchnell        = "flux_schnell"
	BaselineFluxDev            = "flux_dev"
)

var knownBaselines = map[string]bool{
	BaselineInfer: true, BaselineStableDiffusion1: true, BaselineStableDiffusion2: true,
	BaselineStableDiffusion512: true, BaselineStableDiffusionXL: true, BaselineStableCascade: true,
	BaselineFlux1: true, BaselineFluxSchnell: true, BaselineFluxDev: true,
}

// IsKnownImageBaseline reports whether b is a known image baseline.
func IsKnownImageBaseline(b string) bool { return knownBaselines[b] }

// Text backends which get a duplicated, prefixed entry per text model.
const (
	TextPrefixAphrodite = "aphrodite/"
	TextPrefixKoboldCpp = "koboldcpp/"
)

// TextBackendPrefixes lists every synthesized text model prefix.
var TextBackendPrefixes = []string{TextPrefixAphrodite, TextPrefixKoboldCpp}

// HasTextBackendPrefix reports whether name is a synthesized backend duplicate.
func HasTextBackendPrefix(name string) bool {
	for _, p := range TextBackendPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
