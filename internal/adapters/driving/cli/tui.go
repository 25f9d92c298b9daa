package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/dfdewey/internal/adapters/driving/tui"
)

// runTUI starts the interactive browser. Replaced in tests.
var runTUI = tui.Run

var tuiCmd = &cobra.Command{
	Use:   "tui <case> [image]",
	Short: "Browse search hits interactively",
	Long: `Launch an interactive terminal browser for the strings indexed for a
case. Type a query and press enter to search; select a hit to see the
files that own it.

Omit the image, or pass 'all', to search every image in the case.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTUICmd,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUICmd(cmd *cobra.Command, args []string) error {
	image := allImages
	if len(args) > 1 {
		image = args[1]
	}

	imageID, err := resolveImageID(cmd.Context(), args[0], image)
	if err != nil {
		return err
	}

	ports := &tui.Ports{
		Search: searchService,
		Cases:  caseManager,
	}
	return runTUI(cmd.Context(), ports, args[0], imageID)
}
