// Package cli: info.go implements the "ws-launcher info" command.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/hostinfo"
	"github.com/shinji-kodama/ws-launcher/internal/launcher"
)

// hostReport is what info prints.
type hostReport struct {
	// BaseDir is where worker directories are resolved.
	BaseDir string `json:"baseDir"`

	// LANIP is the address other hosts reach this one at. Empty when no
	// interface has one.
	LANIP string `json:"lanIP,omitempty"`

	// Config is the config file in effect; empty means built-in defaults.
	Config string `json:"config,omitempty"`

	StateFile string `json:"stateFile"`
	BusURL    string `json:"busURL"`

	// Workers is the number of workers the plan would launch.
	Workers int `json:"workers"`
}

// NewInfoCommand creates the "info" cobra command.
func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the resolved base directory, LAN IP and config",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			// Step 1: Resolve the same base directory and plan that launch
			// would use.
			baseDir, err := resolveBaseDir()
			if err != nil {
				return err
			}
			plan, configPath, err := loadPlan(baseDir)
			if err != nil {
				return err
			}

			// Step 2: Collect the report. The LAN IP is informational, so a
			// failed lookup only leaves the field empty.
			report := hostReport{
				BaseDir:   baseDir,
				Config:    configPath,
				StateFile: launcher.NewStateStore(baseDir).Path(),
				BusURL:    plan.BusURL,
				Workers:   len(plan.Workers),
			}
			if ip, err := hostinfo.LANIP(); err == nil {
				report.LANIP = ip
			} else {
				VerboseLog("LAN IP lookup failed", "error", err)
			}

			// Step 3: Output.
			printHostReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

// printHostReport outputs r as aligned "Key: value" lines or as JSON.
func printHostReport(w io.Writer, r hostReport) {
	if IsJSONOutput() {
		_ = printJSON(w, r)
		return
	}
	// Text output spells out what an empty field means.
	config := r.Config
	if config == "" {
		config = "(built-in defaults)"
	}
	lanIP := r.LANIP
	if lanIP == "" {
		lanIP = "(none)"
	}
	fmt.Fprintf(w, "Base directory: %s\n", r.BaseDir)
	fmt.Fprintf(w, "LAN IP:         %s\n", lanIP)
	fmt.Fprintf(w, "Config:         %s\n", config)
	fmt.Fprintf(w, "State file:     %s\n", r.StateFile)
	fmt.Fprintf(w, "Bus URL:        %s\n", r.BusURL)
	fmt.Fprintf(w, "Workers:        %d\n", r.Workers)
}
