package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/config"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/crm"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/logging"
	"github.com/Chefmattrock/agent-quality-analyzer/internal/report"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aqa",
	Short:   "Builder attribution and cohort metrics for agent marketplaces",
	Long:    "aqa ingests marketplace agents, attributes them to builders, classifies grant-program and paid-traffic cohorts, and reports on how they compare.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := config.LoadEnv(); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		logger.Debug("loaded config", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(exclusionsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(outreachCmd)
	rootCmd.AddCommand(refreshCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aqa", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/aqa/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the grant list, paid traffic names and API key variables.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and classification status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		last, err := db.GetLastClassificationRun()
		if err != nil {
			return fmt.Errorf("getting last classification: %w", err)
		}

		fmt.Printf("Database: %s\n", db.Path())
		return report.Table(os.Stdout, report.StatsData(stats, last, report.Human))
	},
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, database.FileName))
}

func newCRMClient() (*crm.Client, error) {
	key, err := cfg.CRMAPIKey()
	if err != nil {
		return nil, err
	}
	return crm.NewClient(cfg.CRM, key, logger), nil
}

// outputPath returns path, or name inside the data directory when path is
// empty.
func outputPath(path, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join(cfg.GetDataDir(), name)
}
