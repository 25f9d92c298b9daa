package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

func processOptions() domain.ProcessOptions {
	return domain.ProcessOptions{
		Extract: domain.ExtractOptions{
			Base64: !noBase64,
			Gzip:   !noGzip,
			Zip:    !noZip,
		},
		Reparse: reparse,
		Reindex: reindex,
	}
}

func runProcess(cmd *cobra.Command, caseID string, images []string) error {
	if caseManager == nil {
		return errors.New("case manager not configured")
	}

	reqs := make([]domain.ProcessRequest, len(images))
	for i, image := range images {
		reqs[i] = domain.ProcessRequest{
			CaseID:    caseID,
			ImagePath: image,
			Options:   processOptions(),
		}
	}

	if len(reqs) == 1 {
		res, err := caseManager.Process(cmd.Context(), reqs[0])
		if res != nil {
			printProcessResult(cmd, res)
		}
		return err
	}

	results, err := caseManager.ProcessAll(cmd.Context(), reqs)
	for _, res := range results {
		if res != nil {
			printProcessResult(cmd, res)
		}
	}
	return err
}

func printProcessResult(cmd *cobra.Command, res *domain.ProcessResult) {
	cmd.Printf("Image %s (%s): %s\n", res.Image.Path, res.Image.ID, res.Image.State)
	if len(res.Skipped) > 0 {
		skipped := make([]string, len(res.Skipped))
		for i, s := range res.Skipped {
			skipped[i] = string(s)
		}
		cmd.Printf("  Skipped:     %s (already complete)\n", strings.Join(skipped, ", "))
	}
	if res.Volumes > 0 {
		cmd.Printf("  Volumes:     %d (%d unmapped)\n", res.Volumes, res.UnmappedVolumes)
		cmd.Printf("  Files:       %d\n", res.Files)
		cmd.Printf("  Extents:     %d\n", res.Extents)
	}
	if res.Indexed > 0 || res.Malformed > 0 {
		cmd.Printf("  Indexed:     %d (%d unallocated)\n", res.Indexed, res.Unallocated)
		cmd.Printf("  Malformed:   %d\n", res.Malformed)
	}
}

func runDelete(cmd *cobra.Command, caseID string, images []string) error {
	if caseManager == nil {
		return errors.New("case manager not configured")
	}

	var errs []error
	for _, image := range images {
		res, err := caseManager.Delete(cmd.Context(), caseID, image)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Purged {
			cmd.Printf("Image %s removed from case %s and deleted\n", res.ImageID, caseID)
		} else {
			cmd.Printf("Image %s removed from case %s; still used by %s\n",
				res.ImageID, caseID, strings.Join(res.RemainingCases, ", "))
		}
	}
	return errors.Join(errs...)
}
