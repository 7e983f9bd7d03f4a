// Package output renders hmr-ctl results as tables, messages or JSON.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Stdout and Stderr are where results and messages go.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// JSONResponse wraps --json output.
type JSONResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

// OutputJSON prints data wrapped in a JSONResponse.
func OutputJSON(data any, err error) error {
	response := JSONResponse{Success: err == nil, Data: data}
	if err != nil {
		response.Error = err.Error()
	}
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(response); encodeErr != nil {
		return fmt.Errorf("failed to encode JSON: %w", encodeErr)
	}
	return nil
}

// PrintRawJSON pretty-prints a JSON document as the service returned it,
// keeping its key order.
func PrintRawJSON(raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	buf.WriteByte('\n')
	_, err := Stdout.Write(buf.Bytes())
	return err
}
