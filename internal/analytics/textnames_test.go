package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTextModelName(t *testing.T) {
	p := ParseTextModelName("Llama-3-8B-Instruct-Q4_K_M")
	assert.Equal(t, "Llama-3", p.Base)
	assert.Equal(t, "8B", p.Size)
	assert.Equal(t, "Instruct", p.Variant)
	assert.Equal(t, "Q4_K_M", p.Quant)
	assert.Equal(t, "llama_3_8b_instruct_q4_k_m", p.Normalized)
}

func TestParseTextModelName_MixtureOfExperts(t *testing.T) {
	p := ParseTextModelName("Mixtral-8x7B-GPTQ")
	assert.Equal(t, "Mixtral", p.Base)
	assert.Equal(t, "8X7B", p.Size)
	assert.Equal(t, "GPTQ", p.Quant)
}

func TestParseTextModelName_NothingToStrip(t *testing.T) {
	p := ParseTextModelName("Pygmalion")
	assert.Equal(t, "Pygmalion", p.Base)
	assert.Empty(t, p.Size)
	assert.Empty(t, p.Quant)
}

func TestGroupByBase(t *testing.T) {
	groups := GroupByBase([]string{
		"Llama-3-8B-Instruct",
		"Llama-3-8B-Instruct-Q4",
		"Llama-3-70B-Instruct",
		"Pygmalion",
	})
	assert.Equal(t, []string{"Llama-3-8B-Instruct", "Llama-3-8B-Instruct-Q4", "Llama-3-70B-Instruct"}, groups["Llama-3"])
	assert.Equal(t, []string{"Pygmalion"}, groups["Pygmalion"])
}
