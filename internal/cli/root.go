package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	ConfigPath string
}

var rf rootFlags

// Execute runs the testforge command tree.
func Execute() error {
	// A missing .env is fine; explicit environment wins anyway.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "testforge",
		Short: "AI-driven API test pipeline (load spec, generate cases, execute, report)",
	}

	rootCmd.PersistentFlags().StringVar(&rf.ConfigPath, "config", "testforge.yaml", "path to the YAML configuration bundle")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(dbCmd())

	return rootCmd.Execute()
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
