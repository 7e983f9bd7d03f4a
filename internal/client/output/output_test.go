package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Stdout
	Stdout = &buf
	t.Cleanup(func() { Stdout = prev })
	return &buf
}

func TestOutputJSON(t *testing.T) {
	buf := captureStdout(t)
	require.NoError(t, OutputJSON(map[string]int{"models": 3}, nil))
	assert.JSONEq(t, `{"success":true,"data":{"models":3}}`, buf.String())

	buf.Reset()
	require.NoError(t, OutputJSON(nil, errors.New("boom")))
	assert.JSONEq(t, `{"success":false,"data":null,"error":"boom"}`, buf.String())
}

func TestPrintRawJSON_KeepsKeyOrder(t *testing.T) {
	buf := captureStdout(t)
	require.NoError(t, PrintRawJSON([]byte(`{"z":1,"a":{"b":2}}`)))
	assert.Equal(t, "{\n  \"z\": 1,\n  \"a\": {\n    \"b\": 2\n  }\n}\n", buf.String())

	assert.Error(t, PrintRawJSON([]byte(`{`)))
}

func TestTableWriter(t *testing.T) {
	buf := captureStdout(t)
	tw := NewTableWriter()
	tw.WriteHeader("NAME", "BASELINE")
	tw.WriteRow("Deliberate", "")
	require.NoError(t, tw.Flush())
	assert.Equal(t, "NAME        BASELINE\nDeliberate  -\n", buf.String())
}
