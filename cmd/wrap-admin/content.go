// ABOUTME: Content commands: render a brief in preview or execute mode and inspect content jobs
// ABOUTME: The brief comes from --text, --file or stdin

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wrap-gateway/internal/render"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a content brief",
		Long: `Render a content brief. Preview parses the brief and records a job without
rendering; execute goes through the policy gate and renders or queues it for approval.

Examples:
  wrap-admin render --text "Headline: Spring wraps" --conversation conv-1
  wrap-admin render --file brief.txt --mode execute`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, _ := cmd.Flags().GetString("text")
			file, _ := cmd.Flags().GetString("file")
			mode, _ := cmd.Flags().GetString("mode")
			conv, _ := cmd.Flags().GetString("conversation")
			org, _ := cmd.Flags().GetString("org")
			agent, _ := cmd.Flags().GetString("agent")

			switch {
			case file == "-":
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(data)
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading brief: %w", err)
				}
				text = string(data)
			}
			if text == "" {
				return fmt.Errorf("one of --text or --file is required")
			}

			resp, err := newClient().Render(cmd.Context(), render.RenderRequest{
				ConversationID: conv,
				OrganizationID: org,
				Agent:          agent,
				Text:           text,
				Mode:           mode,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, resp)
			}
			switch {
			case resp.Preview:
				fmt.Fprintf(out, "%s job %s\n", color.CyanString("preview"), resp.JobID)
				return printJSON(out, resp.Parsed)
			case resp.QueuedForApproval:
				fmt.Fprintf(out, "%s job %s, action %s\n", color.YellowString("queued for approval"), resp.JobID, resp.AIActionID)
			case resp.Executed:
				fmt.Fprintf(out, "%s job %s via %s\n", color.GreenString("rendered"), resp.JobID, resp.UsedFn)
			default:
				fmt.Fprintf(out, "%s job %s: %s\n", color.RedString("not rendered"), resp.JobID, firstNonEmpty(resp.Reason, resp.Error))
			}
			return nil
		},
	}
	cmd.Flags().String("text", "", "brief text")
	cmd.Flags().String("file", "", "read the brief from a file (- for stdin)")
	cmd.Flags().String("mode", render.ModePreview, "preview or execute")
	cmd.Flags().String("conversation", "", "conversation ID")
	cmd.Flags().String("org", "", "organization ID")
	cmd.Flags().String("agent", "", "agent name recorded on the job")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect content jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List content jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := newClient().ListContentJobs(cmd.Context(), listOptions(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, jobs)
			}

			heading(out, "Content Jobs")
			if len(jobs) == 0 {
				fmt.Fprintln(out, "  (no jobs)")
				fmt.Fprintln(out)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tMODE\tSTATUS\tRENDERER\tCREATED")
			fmt.Fprintln(w, "  --\t----\t------\t--------\t-------")
			for _, j := range jobs {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
					truncate(j.ID, 12), j.Mode, j.Status, deref(j.UsedFn), shortTime(j.CreatedAt))
			}
			w.Flush()
			fmt.Fprintln(out)
			return nil
		},
	}
	addListFlags(list)

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one content job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().GetContentJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}
