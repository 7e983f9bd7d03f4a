package legacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "name,parameters_bn,description,version,style,nsfw,baseline,url,tags,settings,display_name\n"

func TestParseTextCSV(t *testing.T) {
	body := csvHeader +
		"org/a,0.5,,,,TRUE,,,,,\n" +
		",7,,,,,,,,,\n" +
		"org/b,,,,,,,,,,\n" +
		"org/c,abc,,,,,,,,,\n" +
		"org/d,1,,,,,,,,\"{\"\"x\"\":{\"\"y\"\":1}}\",\n"

	rows, issues, err := ParseTextCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(500_000_000), rows[0].Parameters)
	assert.True(t, rows[0].NSFW)
	assert.Equal(t, int64(0), rows[1].Parameters)

	var msgs []string
	for _, i := range issues {
		msgs = append(msgs, i.Row+": "+i.Message)
	}
	assert.Contains(t, msgs, "<row 3>: missing required 'name' field; row skipped")
	assert.Contains(t, msgs, "org/b: missing parameters_bn; defaulting to 0")
	assert.Contains(t, msgs, "org/c: invalid parameters_bn value; row skipped")
	assert.Contains(t, msgs, "org/d: invalid settings structure; only primitive values or lists thereof are supported")
}

func TestExpandTextRows(t *testing.T) {
	rows := []TextRow{{Name: "llama-2-7b", ParametersBn: 7, Parameters: 7_000_000_000}}
	doc, err := ExpandTextRows(rows)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"llama-2-7b", "aphrodite/llama-2-7b", "koboldcpp/llama-2-7b"}, keysOf(doc))
}

func TestWriteTextCSV_RoundTrip(t *testing.T) {
	body := csvHeader +
		"org/model-x,13.0,desc,2,roleplay,false,mistral,https://hf.co/x,\"chat,rp\",\"{\"\"a\"\":[1,2],\"\"b\"\":\"\"c\"\"}\",\n" +
		"org/y,7.0,,,,true,,,,,Pretty Y\n"

	rows, issues, err := ParseTextCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Empty(t, issues)

	doc, err := ExpandTextRows(rows)
	require.NoError(t, err)

	out, err := EncodeTextCSV(doc)
	require.NoError(t, err)
	assert.Equal(t, body, string(out))
}

func TestSizeTag(t *testing.T) {
	assert.Equal(t, "7B", SizeTag(7.0))
	assert.Equal(t, "2B", SizeTag(2.5))
	assert.Equal(t, "4B", SizeTag(3.5))
	assert.Equal(t, "1B", SizeTag(0.5+0.6))
}

func keysOf(doc Document) []string {
	out := make([]string, 0, len(doc))
	for k := range doc {
		out = append(out, k)
	}
	return out
}
