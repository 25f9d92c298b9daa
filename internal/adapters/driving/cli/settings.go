package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective settings",
	Long: `Show the settings read from the config file, with defaults for every
key that is not set, and check that they are usable.`,
	Args: cobra.NoArgs,
	RunE: runSettingsShow,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[datastore]")
	cmd.Printf("  path: %s\n", settings.Datastore.Path)
	cmd.Println()

	cmd.Println("[search]")
	cmd.Printf("  backend: %s\n", settings.Search.Backend.Description())
	if settings.Search.Backend.IsRemote() {
		cmd.Printf("  endpoint: %s\n", settings.Search.Endpoint())
		cmd.Printf("  timeout_seconds: %d\n", settings.Search.TimeoutSeconds)
	}
	cmd.Printf("  max_results: %d\n", settings.Search.MaxResults)
	cmd.Println()

	cmd.Println("[index]")
	cmd.Printf("  batch_size: %d\n", settings.Index.BatchSize)
	cmd.Printf("  max_retries: %d\n", settings.Index.MaxRetries)
	cmd.Printf("  retry_backoff_ms: %d\n", settings.Index.RetryBackoffMS)
	if settings.Index.MaxBatchesPerSecond > 0 {
		cmd.Printf("  max_batches_per_second: %g\n", settings.Index.MaxBatchesPerSecond)
	} else {
		cmd.Println("  max_batches_per_second: unlimited")
	}
	cmd.Println()

	cmd.Println("[extractor]")
	cmd.Printf("  command: %s\n", settings.Extractor.Command)
	cmd.Println()

	cmd.Println("[mapping]")
	cmd.Printf("  workers: %d\n", settings.Mapping.Workers)
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}
