package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

type searchHitJSON struct {
	Offset     int64    `json:"offset"`
	DecodePath string   `json:"decode_path,omitempty"`
	Data       string   `json:"data"`
	Snippet    string   `json:"snippet,omitempty"`
	Allocated  bool     `json:"allocated"`
	Volume     string   `json:"volume,omitempty"`
	Inode      uint64   `json:"inode,omitempty"`
	Filenames  []string `json:"filenames,omitempty"`
	FileOffset int64    `json:"file_offset,omitempty"`
}

type searchResultJSON struct {
	ImageID string          `json:"image_id"`
	Image   string          `json:"image"`
	Query   string          `json:"query"`
	Total   int             `json:"total"`
	TookMS  int64           `json:"took_ms"`
	Hits    []searchHitJSON `json:"hits"`
}

type listResultJSON struct {
	ImageID string         `json:"image_id"`
	Image   string         `json:"image"`
	Results map[string]int `json:"results"`
}

func runSearch(cmd *cobra.Command, caseID, imageID string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	results, err := searchService.Search(cmd.Context(), domain.SearchRequest{
		CaseID:    caseID,
		ImageID:   imageID,
		Query:     searchQuery,
		Highlight: highlightHits,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return outputSearchJSON(cmd, results)
	}
	return outputSearchTable(cmd, results)
}

func outputSearchJSON(cmd *cobra.Command, results []domain.ImageResults) error {
	out := make([]searchResultJSON, len(results))
	for i := range results {
		r := &results[i]
		hits := make([]searchHitJSON, len(r.Hits))
		for j, h := range r.Hits {
			hits[j] = searchHitJSON{
				Offset:     h.Offset,
				DecodePath: h.DecodePath,
				Data:       h.Data,
				Snippet:    h.Snippet,
				Allocated:  h.Allocated,
				Volume:     h.Location,
				Inode:      h.Inode,
				Filenames:  h.FilePaths,
				FileOffset: h.FileOffset,
			}
		}
		out[i] = searchResultJSON{
			ImageID: r.Image.ID,
			Image:   r.Image.Path,
			Query:   r.Query,
			Total:   r.Total,
			TookMS:  r.Took.Milliseconds(),
			Hits:    hits,
		}
	}
	return printJSON(cmd, out)
}

func outputSearchTable(cmd *cobra.Command, results []domain.ImageResults) error {
	if len(results) == 0 {
		cmd.Println("No images in case.")
		return nil
	}

	for i := range results {
		r := &results[i]
		cmd.Printf("Searched %s (%s) for %q\n", r.Image.Path, r.Image.ID, r.Query)
		cmd.Printf("Returned %d results in %dms.\n\n", r.Total, r.Took.Milliseconds())
		if len(r.Hits) > 0 {
			cmd.Println(hitTable(r.Hits))
			cmd.Println()
		}
	}
	return nil
}

func runSearchList(cmd *cobra.Command, caseID, imageID string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	terms, err := readTerms(searchList)
	if err != nil {
		return err
	}

	results, err := searchService.SearchList(cmd.Context(), caseID, imageID, terms)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		out := make([]listResultJSON, len(results))
		for i := range results {
			out[i] = listResultJSON{
				ImageID: results[i].Image.ID,
				Image:   results[i].Image.Path,
				Results: results[i].Counts,
			}
		}
		return printJSON(cmd, out)
	}

	for i := range results {
		r := results[i]
		cmd.Printf("Searched %s (%s) for terms in %s\n\n", r.Image.Path, r.Image.ID, searchList)
		if tbl, ok := termTable(r); ok {
			cmd.Println(tbl)
		} else {
			cmd.Println("No results.")
		}
		cmd.Println()
	}
	return nil
}

// readTerms returns the non-empty lines of a search list file.
func readTerms(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read search list: %v", domain.ErrInvalidInput, err)
	}

	var terms []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			terms = append(terms, line)
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: search list %s is empty", domain.ErrInvalidInput, path)
	}
	return terms, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
