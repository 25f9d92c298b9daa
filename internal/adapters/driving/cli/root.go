// Package cli implements the dfdewey command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driving"
	"github.com/custodia-labs/dfdewey/internal/logger"
	"github.com/custodia-labs/dfdewey/internal/metrics"
)

// allImages selects every image of a case.
const allImages = "all"

var version = "dev"

// Services used by the commands. They are wired from configuration before
// a command runs unless already set.
var (
	settingsService driving.SettingsService
	searchService   driving.SearchService
	caseManager     driving.CaseManager
	closers         []io.Closer

	wire = wireServices
)

var (
	configPath  string
	verbose     bool
	metricsFile string

	noBase64 bool
	noGzip   bool
	noZip    bool
	reparse  bool
	reindex  bool
	deleteIt bool

	highlightHits bool
	jsonOutput    bool
	searchQuery   string
	searchList    string
)

var rootCmd = &cobra.Command{
	Use:   "dfdewey <case> [image...]",
	Short: "Index and search the strings of forensic disk images",
	Long: `dfDewey extracts the strings of a raw disk image, maps every string to
the file that holds it and makes them searchable per case.

Without a search flag the given image is processed: its filesystems are
mapped and its strings are indexed. Stages that are already complete are
skipped; use --reparse or --reindex to redo them.

With -s or --search_list the images of the case are searched instead.
The image defaults to 'all'.`,
	Example: `  dfdewey case1 /evidence/disk.dd
  dfdewey case1 /evidence/disk.dd --reindex
  dfdewey case1 -s "secret password" --highlight
  dfdewey case1 /evidence/disk.dd --search_list terms.txt --json
  dfdewey case1 /evidence/disk.dd --delete`,
	Args:              cobra.MinimumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runCase,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default ~/.dfdewey/config.toml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&metricsFile, "metrics_file", "", "write pipeline metrics in Prometheus text format to this file")

	f := rootCmd.Flags()
	f.BoolVar(&noBase64, "no_base64", false, "don't decode base64")
	f.BoolVar(&noGzip, "no_gzip", false, "don't decompress gzip")
	f.BoolVar(&noZip, "no_zip", false, "don't decompress zip")
	f.BoolVar(&reparse, "reparse", false, "reparse filesystem (will delete existing filesystem mapping)")
	f.BoolVar(&reindex, "reindex", false, "recreate index (will delete existing index)")
	f.BoolVar(&deleteIt, "delete", false, "delete image (filesystem mapping and index)")

	f.BoolVar(&highlightHits, "highlight", false, "highlight search term in results")
	f.BoolVar(&jsonOutput, "json", false, "output results in JSON format")
	f.StringVarP(&searchQuery, "search", "s", "", "search query")
	f.StringVar(&searchList, "search_list", "", "file with search queries, one per line")

	rootCmd.MarkFlagsMutuallyExclusive("search", "search_list")
	rootCmd.MarkFlagsMutuallyExclusive("delete", "reparse")
	rootCmd.MarkFlagsMutuallyExclusive("delete", "reindex")
}

// Execute runs the root command. The metrics file is written and the
// stores are closed even when the command fails.
func Execute(ctx context.Context) error {
	rootCmd.SetOut(os.Stdout)
	err := rootCmd.ExecuteContext(ctx)

	if metricsFile != "" {
		if werr := metrics.WriteFile(metricsFile); werr != nil {
			logger.Warn("Could not write metrics: %v", werr)
		}
	}
	closeServices()
	return err
}

// setup configures logging and wires the services.
func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)

	if cmd == versionCmd || cmd.Name() == "help" {
		return nil
	}
	if cmd == settingsCmd && settingsService != nil {
		return nil
	}
	if cmd != settingsCmd && searchService != nil && caseManager != nil {
		return nil
	}
	return wire(cmd)
}

func closeServices() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Debug("close: %v", err)
		}
	}
	closers = nil
}

func runCase(cmd *cobra.Command, args []string) error {
	caseID := args[0]
	images := args[1:]
	if len(images) == 0 {
		images = []string{allImages}
	}

	if searchQuery != "" || searchList != "" {
		if len(images) > 1 {
			return fmt.Errorf("%w: search one image or 'all'", domain.ErrInvalidInput)
		}
		imageID, err := resolveImageID(cmd.Context(), caseID, images[0])
		if err != nil {
			return err
		}
		if searchQuery != "" {
			return runSearch(cmd, caseID, imageID)
		}
		return runSearchList(cmd, caseID, imageID)
	}

	if highlightHits || jsonOutput {
		return fmt.Errorf("%w: --highlight and --json apply to searches", domain.ErrInvalidInput)
	}
	if images[0] == allImages {
		return fmt.Errorf("%w: image must be supplied for processing", domain.ErrInvalidInput)
	}
	if deleteIt {
		return runDelete(cmd, caseID, images)
	}
	return runProcess(cmd, caseID, images)
}

// resolveImageID maps an image argument to its ID. An image file that no
// longer exists is matched against the paths recorded for the case.
func resolveImageID(ctx context.Context, caseID, image string) (string, error) {
	if image == allImages {
		return "", nil
	}
	if caseManager == nil {
		return "", errors.New("case manager not configured")
	}

	id, err := caseManager.ImageID(ctx, image)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	abs, absErr := filepath.Abs(image)
	if absErr != nil {
		return "", err
	}
	imgs, listErr := caseManager.Images(ctx, caseID)
	if listErr != nil {
		return "", listErr
	}
	for _, img := range imgs {
		if img.Path == abs {
			return img.ID, nil
		}
	}
	return "", err
}
