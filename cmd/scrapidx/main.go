package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"scrapidx/internal/app"
	"scrapidx/internal/config"
	"scrapidx/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a ScrapApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Ingest", "Index") and
// args are recorded as its parameters.
func newApp(ctx context.Context, operation string, args ...string) (*app.ScrapApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewScrapApp(ctx, cfg, operation, strings.Join(args, " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// closeApp closes a and reports a close failure on stderr. Close errors do
// not fail a command whose work already completed.
func closeApp(a *app.ScrapApp) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scrapidx",
	Short:        "Ingest and index leaked credential dumps",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Object Store: %s\n", cfg.ObjectStore.Type)
		fmt.Printf("Database:     %s (snapshot: %t)\n", cfg.Database.Type, cfg.Database.Snapshot)
		fmt.Printf("Search Index: %s\n", cfg.SearchIndex.Type)
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		fmt.Printf("Extensions:   %s\n", strings.Join(cfg.Ingest.Extensions, " "))
		if len(cfg.Ingest.Prefixes) > 0 {
			fmt.Printf("Prefixes:     %s\n", strings.Join(cfg.Ingest.Prefixes, " "))
		}
		fmt.Printf("Batch Size:   %d\n", cfg.Ingest.BatchSize)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage the published metadata snapshot",
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download and decrypt the metadata snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd.Context(), app.OpPullSnapshot, out)
		if err != nil {
			return err
		}
		defer closeApp(a)

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := a.PullSnapshot(cmd.Context(), passphrase, out); err != nil {
			return err
		}

		fmt.Printf("Snapshot written to %s\n", out)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	snapshotCmd.AddCommand(snapshotPullCmd)
	snapshotPullCmd.Flags().StringP("out", "o", "", "Destination path of the restored database")
	snapshotPullCmd.MarkFlagRequired("out")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
}
