package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/testforge-labs/testforge-go/internal/config"
	"github.com/testforge-labs/testforge-go/internal/domain"
	"github.com/testforge-labs/testforge-go/internal/orchestrator"
	"github.com/testforge-labs/testforge-go/internal/report"
)

func runCmd() *cobra.Command {
	var idempotencyKey string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline for the configured spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rf.ConfigPath)
			if err != nil {
				return err
			}
			logger := newLogger()
			ctx := cmd.Context()

			orch, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			specInput, err := os.ReadFile(cfg.SpecPath)
			if err != nil {
				return fmt.Errorf("read spec %s: %w", cfg.SpecPath, err)
			}

			result, err := orch.Start(ctx, specInput, options(cfg, idempotencyKey))
			return finish(ctx, cfg, result, err)
		},
	}
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "dedupe key: repeated runs with the same key share one pipeline run")
	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a failed run from its last successful stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rf.ConfigPath)
			if err != nil {
				return err
			}
			logger := newLogger()
			ctx := cmd.Context()

			orch, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			result, err := orch.Resume(ctx, args[0], options(cfg, ""))
			return finish(ctx, cfg, result, err)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the current stage and status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rf.ConfigPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			orch, err := buildOrchestrator(ctx, cfg, newLogger())
			if err != nil {
				return err
			}

			info, err := orch.Status(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run %s: stage=%s status=%s\n", info.RunID, info.Stage, info.Status)
			return nil
		},
	}
}

func finish(ctx context.Context, cfg config.Config, result domain.Report, err error) error {
	if err != nil {
		var failure *orchestrator.RunFailure
		if errors.As(err, &failure) {
			fmt.Fprintf(os.Stderr, "run %s failed at %s (last completed stage %s)\n",
				failure.RunID, failure.FailingStage, failure.LastCompletedStage)
			fmt.Fprintf(os.Stderr, "cause: %v\n", failure.Cause)
			fmt.Fprintf(os.Stderr, "retained artifacts: %v; resume with: testforge resume %s\n",
				failure.PartialArtifacts, failure.RunID)
		}
		return err
	}

	rendered := report.Render(result)
	if cfg.ReportPath != "" {
		if err := os.WriteFile(cfg.ReportPath, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("write report %s: %w", cfg.ReportPath, err)
		}
	}
	fmt.Println(rendered)
	return nil
}
