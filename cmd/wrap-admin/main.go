// ABOUTME: Operator CLI for wrap-gateway: actions, approvals, policies, mode and credentials
// ABOUTME: Talks to the HTTP API with the bearer token from WRAP_TOKEN or the bootstrap token file

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wrap-gateway/internal/client"
	"github.com/2389/wrap-gateway/internal/config"
)

const banner = `
                                  _           _
__      ___ __ __ _ _ __       __ _  __| |_ __ ___ (_)_ __
\ \ /\ / / '__/ _' | '_ \ ___ / _' |/ _' | '_ ' _ \| | '_ \
 \ V  V /| | | (_| | |_) |___| (_| | (_| | | | | | | | | | |
  \_/\_/ |_|  \__,_| .__/     \__,_|\__,_|_| |_| |_|_|_| |_|
                   |_|
`

const defaultGatewayURL = "http://localhost:8080"

// newClient builds the API client; tests replace it.
var newClient = func() *client.Client {
	return client.New(getEnv("WRAP_GATEWAY_URL", defaultGatewayURL), getToken())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wrap-admin",
		Short: "Operate a wrap-gateway",
		Long: banner + `
Environment:
  WRAP_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)
  WRAP_TOKEN         Bearer token (default: the token saved by wrap-gateway bootstrap)

Examples:
  wrap-admin mode
  wrap-admin mode set LIVE
  wrap-admin actions list --status pending
  wrap-admin actions approve <id>
  wrap-admin execute <id>
  wrap-admin policy set conv-42 --paused=true`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print raw JSON instead of tables")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	}

	root.AddCommand(
		newStatusCmd(),
		newExecuteCmd(),
		newActionsCmd(),
		newReceiptsCmd(),
		newMessagesCmd(),
		newRenderCmd(),
		newJobsCmd(),
		newPolicyCmd(),
		newModeCmd(),
		newCredentialsCmd(),
		newAuditCmd(),
	)
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway readiness and the operating mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			out := cmd.OutOrStdout()

			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			mode, err := c.GetMode(cmd.Context())
			if err != nil {
				return err
			}

			if wantJSON(cmd) {
				return printJSON(out, map[string]any{"health": health, "mode": mode})
			}
			heading(out, "Gateway Status")
			fmt.Fprintf(out, "  Health: %s\n", color.GreenString(health.Status))
			fmt.Fprintf(out, "  Mode:   %s (%s)\n", modeColor(string(mode.Mode)), mode.Source)
			fmt.Fprintln(out)
			return nil
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken returns WRAP_TOKEN, or the token file written by bootstrap next
// to the gateway config.
func getToken() string {
	if token := os.Getenv("WRAP_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(config.DefaultPath()), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func heading(w io.Writer, title string) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  "+title)
	cyan.Fprintln(w, "  "+strings.Repeat("-", len(title)))
}

func modeColor(mode string) string {
	switch mode {
	case "LIVE":
		return color.GreenString(mode)
	case "OFF":
		return color.RedString(mode)
	default:
		return color.YellowString(mode)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortTime renders an RFC3339 timestamp from the API as "Jan 02 15:04".
func shortTime(s string) string {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Local().Format("Jan 02 15:04")
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
