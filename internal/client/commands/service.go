package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Show the service's backend, capabilities and cache state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		resp, err := c.Get(cmd.Context(), client.APIPrefix+"/backend")
		body := expect("get backend info", resp, err, http.StatusOK)
		if err := output.PrintRawJSON(body); err != nil {
			errors.ExitWithError(err, "")
		}
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the service's health",
	Args:  cobra.NoArgs,
	Run:   runHealth,
}

type healthResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	Backend string `json:"backend"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"checks"`
}

func runHealth(cmd *cobra.Command, args []string) {
	c := getClient()
	resp, err := c.Get(cmd.Context(), client.APIPrefix+"/health")
	// an unhealthy service still answers with its checks
	body := expect("check health", resp, err, http.StatusOK, http.StatusServiceUnavailable)

	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}
	if flagJSON {
		output.OutputJSON(h, nil)
	} else {
		fmt.Fprintf(output.Stdout, "%s: %s (%s, %s)\n", c.BaseURL, h.Status, h.Mode, h.Backend)
		table := output.NewTableWriter()
		table.WriteHeader("CHECK", "STATUS", "MESSAGE")
		for name, check := range h.Checks {
			table.WriteRow(name, check.Status, check.Message)
		}
		table.Flush()
	}
	if resp.StatusCode != http.StatusOK {
		errors.ExitWithCode(errors.ExitUnavailable, "")
	}
}

func init() {
	rootCmd.AddCommand(backendCmd, healthCmd)
}
