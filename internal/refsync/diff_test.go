package refsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

func TestCompare(t *testing.T) {
	primary := legacy.Document{
		"same":      json.RawMessage(`{"name":"same","nsfw":false}`),
		"reordered": json.RawMessage(`{"name":"reordered","nsfw":true}`),
		"changed":   json.RawMessage(`{"name":"changed","description":"new"}`),
		"new":       json.RawMessage(`{"name":"new"}`),
	}
	github := legacy.Document{
		"same":      json.RawMessage(`{"name":"same","nsfw":false}`),
		"reordered": json.RawMessage(`{ "nsfw": true, "name": "reordered" }`),
		"changed":   json.RawMessage(`{"name":"changed","description":"old"}`),
		"gone":      json.RawMessage(`{"name":"gone"}`),
	}

	d := Compare(models.CategoryEsrgan, primary, github)

	assert.Equal(t, []string{"new"}, sortedNames(d.Added))
	assert.Equal(t, []string{"gone"}, sortedNames(d.Removed))
	assert.Equal(t, []string{"changed"}, sortedNames(d.Modified))
	assert.JSONEq(t, `{"name":"changed","description":"new"}`, string(d.Modified["changed"]), "modified keeps the PRIMARY version")
	assert.True(t, d.HasChanges())
	assert.Equal(t, 3, d.TotalChanges())
}

func TestCompare_Identical(t *testing.T) {
	doc := legacy.Document{"a": json.RawMessage(`{"name":"a"}`)}
	d := Compare(models.CategoryClip, doc, doc)

	assert.False(t, d.HasChanges())
	assert.Equal(t, "No differences detected for clip", d.Summary())

	d = Compare(models.CategoryClip, legacy.Document{}, legacy.Document{})
	assert.Zero(t, d.TotalChanges())
}

func TestDiff_Summary(t *testing.T) {
	primary := legacy.Document{}
	for i := range 7 {
		name := fmt.Sprintf("model-%d", i)
		primary[name] = json.RawMessage(`{}`)
	}
	github := legacy.Document{"old": json.RawMessage(`{}`)}

	summary := Compare(models.CategoryControlnet, primary, github).Summary()
	lines := strings.Split(summary, "\n")

	require.Len(t, lines, 10)
	assert.Equal(t, "Differences for controlnet:", lines[0])
	assert.Equal(t, "  Added: 7 models", lines[1])
	assert.Equal(t, "    + model-0", lines[2])
	assert.Equal(t, "    + model-4", lines[6])
	assert.Equal(t, "    ... and 2 more", lines[7])
	assert.Equal(t, "  Removed: 1 models", lines[8])
	assert.Equal(t, "    - old", lines[9])
	assert.NotContains(t, summary, "Modified")
}
