// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/hlsforge/internal/version"
)

const (
	defaultServer = "http://localhost:8000"
	serverEnv     = "HLSCTL_SERVER"
)

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *client {
	return newClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hlsctl",
		Short:         "Submit and inspect hlsforge transcode jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
	}

	server := os.Getenv(serverEnv)
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "daemon base URL (env "+serverEnv+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	root.AddCommand(
		submitCmd(opts),
		uploadCmd(opts),
		statusCmd(opts),
		cancelCmd(opts),
		listCmd(opts),
	)
	return root
}

func submitCmd(opts *options) *cobra.Command {
	var (
		contentType string
		wait        bool
		interval    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Queue a file already present on the daemon host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			ref, err := c.submit(cmd.Context(), path, contentType)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.JobID, ref.State)
			if !wait {
				return nil
			}
			return waitAndPrint(cmd.Context(), cmd.OutOrStdout(), c, ref.JobID, interval)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type of the source")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	return cmd
}

func uploadCmd(opts *options) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local file and queue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			c.http.Timeout = 0 // uploads are bounded by the daemon's size cap instead
			ref, err := c.upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ref.JobID, ref.State, ref.VideoURL)
			if !wait {
				return nil
			}
			return waitAndPrint(cmd.Context(), cmd.OutOrStdout(), c, ref.JobID, interval)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func cancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := opts.client().cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.JobID, ref.State)
			return nil
		},
	}
}

func listCmd(opts *options) *cobra.Command {
	var (
		states []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().list(cmd.Context(), states, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTATE\tCREATED\tSOURCE")
			for _, st := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.JobID, st.State, st.CreatedAt.Format(time.RFC3339), st.SourcePath)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state (QUEUED, RUNNING, DONE, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs")
	return cmd
}

func waitAndPrint(ctx context.Context, w io.Writer, c *client, id string, every time.Duration) error {
	st, err := c.wait(ctx, id, every)
	if err != nil {
		return err
	}
	printStatus(w, st)
	if st.State == "FAILED" {
		return fmt.Errorf("job %s failed", id)
	}
	return nil
}

func printStatus(w io.Writer, st jobStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			_, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	ts := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	row("ID", st.JobID)
	row("State", st.State)
	row("Source", st.SourcePath)
	row("Created", st.CreatedAt.Format(time.RFC3339))
	row("Started", ts(st.StartedAt))
	row("Completed", ts(st.CompletedAt))
	row("Manifest", st.ManifestURL)
	if f := st.Failure; f != nil {
		row("Failure", f.Reason)
		if f.ExitCode != 0 {
			row("Exit code", fmt.Sprint(f.ExitCode))
		}
		row("Message", f.Message)
	}
	_ = tw.Flush()
	if st.Failure != nil && st.Failure.Diagnostics != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", st.Failure.Diagnostics)
	}
}
