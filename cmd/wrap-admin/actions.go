// ABOUTME: Action commands: list, show, create and approve records, execute, and read receipts
// ABOUTME: Execute prints either the block reason or the dispatch outcome

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/client"
)

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("conversation", "", "filter by conversation ID")
	cmd.Flags().String("org", "", "filter by organization ID")
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().Int("limit", 50, "maximum rows")
}

func listOptions(cmd *cobra.Command) client.ListOptions {
	conv, _ := cmd.Flags().GetString("conversation")
	org, _ := cmd.Flags().GetString("org")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	return client.ListOptions{ConversationID: conv, OrganizationID: org, Status: status, Limit: limit}
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <action-id>",
		Short: "Run an action through the policy gate and dispatch it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, res)
			}

			switch {
			case res.Blocked:
				fmt.Fprintf(out, "%s %s\n", color.YellowString("blocked:"), res.Reason)
			case res.Sent:
				label := "sent"
				if res.Duplicate {
					label = "already sent"
				}
				fmt.Fprintf(out, "%s via %s (receipt %s)\n", color.GreenString(label), res.Provider, deref(res.ProviderReceiptID))
			default:
				label := "failed:"
				if res.Duplicate {
					label = "previously failed:"
				}
				fmt.Fprintf(out, "%s %s\n", color.RedString(label), deref(res.Error))
			}
			return nil
		},
	}
}

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Manage action records",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List action records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions, err := newClient().ListActions(cmd.Context(), listOptions(cmd))
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), actions)
			}
			printActions(cmd.OutOrStdout(), actions)
			return nil
		},
	}
	addListFlags(list)

	get := &cobra.Command{
		Use:   "get <action-id>",
		Short: "Show one action record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newClient().GetAction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an action record",
		Long: `Create an action record. The payload is JSON from --payload or --payload-file.

Examples:
  wrap-admin actions create --type website_reply --conversation conv-1 --payload '{"message":"We open at 9"}'
  wrap-admin actions create --type email_send --payload-file reply.json --approved`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			payloadFile, _ := cmd.Flags().GetString("payload-file")
			conv, _ := cmd.Flags().GetString("conversation")
			org, _ := cmd.Flags().GetString("org")
			approved, _ := cmd.Flags().GetBool("approved")

			if !action.Type(typ).Valid() {
				return fmt.Errorf("--type must be one of dm_send, email_send, website_reply, content_render")
			}
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("reading payload file: %w", err)
				}
				payload = string(data)
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			params := client.CreateActionParams{
				ConversationID: conv,
				OrganizationID: org,
				ActionType:     action.Type(typ),
				Payload:        json.RawMessage(payload),
			}
			if approved {
				params.Status = action.StatusApproved
			}

			a, err := newClient().CreateAction(cmd.Context(), params)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), a)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", color.GreenString("created"), a.ID, a.Status)
			return nil
		},
	}
	create.Flags().String("type", "", "action type")
	create.Flags().String("payload", "{}", "action payload as JSON")
	create.Flags().String("payload-file", "", "read the payload from a file")
	create.Flags().String("conversation", "", "conversation ID")
	create.Flags().String("org", "", "organization ID")
	create.Flags().Bool("approved", false, "create the record already approved (operator role)")

	approve := &cobra.Command{
		Use:   "approve <action-id>",
		Short: "Approve a pending action record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newClient().ApproveAction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), a)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("approved"), a.ID)
			return nil
		},
	}

	cmd.AddCommand(list, get, create, approve)
	return cmd
}

func statusColor(s string) string {
	switch s {
	case string(action.StatusSent):
		return color.GreenString(s)
	case string(action.StatusFailed):
		return color.RedString(s)
	case string(action.StatusPending):
		return color.YellowString(s)
	default:
		return s
	}
}

func printActions(out io.Writer, actions []api.ActionResponse) {
	heading(out, "Actions")
	if len(actions) == 0 {
		fmt.Fprintln(out, "  (no actions)")
		fmt.Fprintln(out)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTYPE\tSTATUS\tCONVERSATION\tCREATED")
	fmt.Fprintln(w, "  --\t----\t------\t------------\t-------")
	for _, a := range actions {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(a.ID, 12), a.ActionType, statusColor(string(a.Status)), truncate(a.ConversationID, 20), shortTime(a.CreatedAt))
	}
	w.Flush()
	fmt.Fprintln(out)
}

func newReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List execution receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := listOptions(cmd)
			opts.SourceID, _ = cmd.Flags().GetString("action")

			receipts, err := newClient().ListReceipts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, receipts)
			}

			heading(out, "Receipts")
			if len(receipts) == 0 {
				fmt.Fprintln(out, "  (no receipts)")
				fmt.Fprintln(out)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  SOURCE\tCHANNEL\tSTATUS\tPROVIDER\tRECEIPT\tBY\tCREATED")
			fmt.Fprintln(w, "  ------\t-------\t------\t--------\t-------\t--\t-------")
			for _, r := range receipts {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					truncate(r.SourceID, 12), r.Channel, statusColor(r.Status), r.Provider,
					truncate(deref(r.ProviderReceiptID), 20), r.TriggeredBy, shortTime(r.CreatedAt))
			}
			w.Flush()
			fmt.Fprintln(out)
			return nil
		},
	}
	addListFlags(cmd)
	cmd.Flags().String("action", "", "only receipts for this action ID")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List outbound messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := listOptions(cmd)
			opts.ActionID, _ = cmd.Flags().GetString("action")

			msgs, err := newClient().ListMessages(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, msgs)
			}

			heading(out, "Outbound Messages")
			if len(msgs) == 0 {
				fmt.Fprintln(out, "  (no messages)")
				fmt.Fprintln(out)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ACTION\tCHANNEL\tSTATUS\tCONTENT\tCREATED")
			fmt.Fprintln(w, "  ------\t-------\t------\t-------\t-------")
			for _, m := range msgs {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
					truncate(m.ActionID, 12), m.Channel, m.DeliveryStatus, truncate(m.Content, 40), shortTime(m.CreatedAt))
			}
			w.Flush()
			fmt.Fprintln(out)
			return nil
		},
	}
	addListFlags(cmd)
	cmd.Flags().String("action", "", "only messages for this action ID")
	return cmd
}
