// ABOUTME: Operator commands: conversation policies, the operating mode, credentials and the audit log
// ABOUTME: Credential values are read from a flag or stdin and never printed back

package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/client"
	"github.com/2389/wrap-gateway/internal/policy"
)

func printPolicy(cmd *cobra.Command, p *api.PolicyResponse) error {
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, p)
	}
	heading(out, "Policy "+p.ConversationID)
	fmt.Fprintf(out, "  ai_paused:         %t\n", p.AIPaused)
	fmt.Fprintf(out, "  approval_required: %t\n", p.ApprovalRequired)
	fmt.Fprintf(out, "  autopilot_allowed: %t\n", p.AutopilotAllowed)
	if p.Stored {
		fmt.Fprintf(out, "  updated:           %s by %s\n", shortTime(p.UpdatedAt), p.UpdatedBy)
	} else {
		fmt.Fprintln(out, color.HiBlackString("  (defaults, nothing stored)"))
	}
	fmt.Fprintln(out)
	return nil
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Read or change a conversation policy",
	}

	get := &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Show a conversation policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().GetPolicy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printPolicy(cmd, p)
		},
	}

	set := &cobra.Command{
		Use:   "set <conversation-id>",
		Short: "Change conversation policy flags; unset flags keep their value",
		Long: `Change conversation policy flags. Only the flags given are changed.

Examples:
  wrap-admin policy set conv-42 --paused=true
  wrap-admin policy set conv-42 --approval=false --autopilot=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.PutPolicyRequest
			changed := false
			for flag, dst := range map[string]**bool{
				"paused":    &req.AIPaused,
				"approval":  &req.ApprovalRequired,
				"autopilot": &req.AutopilotAllowed,
			} {
				if !cmd.Flags().Changed(flag) {
					continue
				}
				v, _ := cmd.Flags().GetBool(flag)
				*dst = &v
				changed = true
			}
			if !changed {
				return fmt.Errorf("set at least one of --paused, --approval or --autopilot")
			}

			p, err := newClient().PutPolicy(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return printPolicy(cmd, p)
		},
	}
	set.Flags().Bool("paused", false, "pause AI actions for the conversation")
	set.Flags().Bool("approval", true, "require operator approval")
	set.Flags().Bool("autopilot", false, "allow autopilot in LIVE mode")

	cmd.AddCommand(get, set)
	return cmd
}

func newModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show the operating mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := newClient().GetMode(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), mode)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", modeColor(string(mode.Mode)), mode.Source)
			return nil
		},
	}

	set := &cobra.Command{
		Use:       "set <LIVE|MANUAL|OFF>",
		Short:     "Change the operating mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(policy.ModeLive), string(policy.ModeManual), string(policy.ModeOff)},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := policy.ParseMode(args[0])
			if err != nil {
				return err
			}
			mode, err := newClient().SetMode(cmd.Context(), m)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), mode)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode set to %s\n", modeColor(string(mode.Mode)))
			return nil
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func parseChannel(s string) (action.Channel, error) {
	switch ch := action.Channel(s); ch {
	case action.ChannelSocialDM, action.ChannelEmail, action.ChannelWebsite, action.ChannelContent:
		return ch, nil
	default:
		return "", fmt.Errorf("unknown channel %q (want social_dm, email, website or content)", s)
	}
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Store or remove channel credentials",
	}

	set := &cobra.Command{
		Use:   "set <channel> <name>",
		Short: "Store a channel credential",
		Long: `Store a channel credential. Without --value the value is read from stdin.

Examples:
  wrap-admin credentials set social_dm access_token --org org-1 < token.txt
  wrap-admin credentials set email access_token --value re_...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			value, _ := cmd.Flags().GetString("value")
			org, _ := cmd.Flags().GetString("org")
			if value == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading credential from stdin: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return fmt.Errorf("credential value is empty")
			}

			if err := newClient().PutCredential(cmd.Context(), ch, args[1], value, org); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", color.GreenString("stored"), ch, args[1])
			return nil
		},
	}
	set.Flags().String("value", "", "credential value (default: read stdin)")
	set.Flags().String("org", "", "organization ID")

	del := &cobra.Command{
		Use:   "delete <channel> <name>",
		Short: "Remove a channel credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			org, _ := cmd.Flags().GetString("org")
			if err := newClient().DeleteCredential(cmd.Context(), ch, args[1], org); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", color.GreenString("deleted"), ch, args[1])
			return nil
		},
	}
	del.Flags().String("org", "", "organization ID")

	cmd.AddCommand(set, del)
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts client.AuditOptions
			opts.Actor, _ = cmd.Flags().GetString("actor")
			opts.Action, _ = cmd.Flags().GetString("action")
			opts.TargetType, _ = cmd.Flags().GetString("target-type")
			opts.TargetID, _ = cmd.Flags().GetString("target")
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				opts.Since = time.Now().Add(-since)
			}

			entries, err := newClient().ListAudit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, entries)
			}

			heading(out, "Audit Log")
			if len(entries) == 0 {
				fmt.Fprintln(out, "  (no entries)")
				fmt.Fprintln(out)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
			fmt.Fprintln(w, "  ----\t-----\t------\t------")
			for _, e := range entries {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", shortTime(e.Timestamp), e.Actor, e.Action, e.TargetType+":"+truncate(e.TargetID, 24))
			}
			w.Flush()
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().String("actor", "", "filter by actor")
	cmd.Flags().String("action", "", "filter by audit action, e.g. set_mode")
	cmd.Flags().String("target-type", "", "filter by target type")
	cmd.Flags().String("target", "", "filter by target ID")
	cmd.Flags().Duration("since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}
