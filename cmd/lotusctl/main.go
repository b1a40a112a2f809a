// Package main provides lotusctl, the command line client for one-shot
// inference, task listing and export against the local task store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/service"
	"github.com/garyjia/lotus/internal/config"
	"github.com/garyjia/lotus/internal/container"
	"github.com/garyjia/lotus/internal/domain/entity"
	"github.com/garyjia/lotus/pkg/utils"
)

// version is set at build time
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "lotusctl",
		Short: "Infer tasks from messages and manage the task store",
		Long: `lotusctl runs the task inference pipeline once, without the HTTP server.

Text is split into candidates, screened by the local model, and the
actionable ones are turned into tasks by the cloud model within the
daily budget. Results are stored in the same database the server uses.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "path to the YAML config file (empty for env only)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		newInferCmd(opts),
		newTasksCmd(opts),
		newExportCmd(opts),
		newReplayCmd(opts),
		newBudgetCmd(opts),
	)
	return rootCmd
}

type inferOptions struct {
	file       string
	stdin      bool
	text       string
	sourceType string
	sourceID   string
}

func newInferCmd(root *rootOptions) *cobra.Command {
	opts := &inferOptions{}

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Infer tasks from text, a file or stdin",
		Example: `  lotusctl infer --text "Can you send the deck by Friday?"
  lotusctl infer --file standup.vtt --source meet_transcript
  pbpaste | lotusctl infer --stdin --source slack_dm --source-id D123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			return withContainer(cmd.Context(), root, func(ctx context.Context, c *container.Container) error {
				in, err := opts.input(ctx, cmd.InOrStdin(), c)
				if err != nil {
					return err
				}

				out, err := c.Service().Infer(ctx, in)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read text from a file (.txt, .md, .vtt, .srt, .log, .pdf)")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "read text from stdin")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "text to infer from")
	cmd.Flags().StringVarP(&opts.sourceType, "source", "s", "", "source type: manual_text, slack_dm, meet_transcript, file_upload")
	cmd.Flags().StringVar(&opts.sourceID, "source-id", "", "identifier of the source (defaults to the file name)")
	cmd.MarkFlagsMutuallyExclusive("file", "stdin", "text")

	return cmd
}

func (o *inferOptions) validate() error {
	if o.file == "" && !o.stdin && o.text == "" {
		return errors.New("one of --file, --stdin or --text is required")
	}
	if o.sourceType != "" && !entity.SourceType(o.sourceType).IsValid() {
		return fmt.Errorf("unknown source type %q", o.sourceType)
	}
	return nil
}

func (o *inferOptions) input(ctx context.Context, stdin io.Reader, c *container.Container) (service.InferInput, error) {
	in := service.InferInput{
		SourceType: entity.SourceType(o.sourceType),
		SourceID:   o.sourceID,
	}

	switch {
	case o.file != "":
		data, err := os.ReadFile(o.file)
		if err != nil {
			return in, fmt.Errorf("failed to read %s: %w", o.file, err)
		}
		text, err := c.Extractor().Extract(ctx, filepath.Base(o.file), data)
		if err != nil {
			return in, err
		}
		in.RawText = text
		if in.SourceType == "" {
			in.SourceType = entity.SourceFileUpload
		}
		if in.SourceID == "" {
			in.SourceID = filepath.Base(o.file)
		}
	case o.stdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return in, fmt.Errorf("failed to read stdin: %w", err)
		}
		in.RawText = string(data)
	default:
		in.RawText = o.text
	}

	if in.SourceType == "" {
		in.SourceType = entity.SourceManualText
	}
	return in, nil
}

func newTasksCmd(root *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List stored tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(ctx context.Context, c *container.Container) error {
				tasks, err := c.Service().ListTasks(ctx, status, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), tasks)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: todo, in_progress, done")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of tasks")

	return cmd
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		out    string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored tasks to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(ctx context.Context, c *container.Container) error {
				tasks, err := c.Service().ListTasks(ctx, status, limit)
				if err != nil {
					return err
				}

				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				if err := c.Exporter().Write(f, tasks); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d tasks to %s\n", len(tasks), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "tasks.xlsx", "output file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10000, "maximum number of tasks")

	return cmd
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-run deferred candidates whose retry time has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(ctx context.Context, c *container.Container) error {
				report, err := c.Service().ReplayDeferred(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newBudgetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show today's cloud workflow budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(ctx context.Context, c *container.Container) error {
				return writeJSON(cmd.OutOrStdout(), c.Budget().Snapshot())
			})
		},
	}
}

// withContainer starts the application without background workers, runs fn
// and closes everything again. Ctrl-C cancels fn's context.
func withContainer(parent context.Context, root *rootOptions, fn func(ctx context.Context, c *container.Container) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if root.verbose {
		logger, err = utils.NewLogger(utils.LoggerConfig{
			Level:      cfg.Logger.Level,
			OutputPath: "stderr",
			Format:     "console",
		})
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	c, err := container.NewContainer(cfg, logger, container.WithoutWorkers())
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
