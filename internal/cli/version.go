package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, stamped by the release pipeline via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print build version information",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Version: version, Commit: commit, Date: date}

			if rootOpts.Format == "json" {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(CLIResponse{Status: "ok", Data: info})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "txndoctor %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
