package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// defaultLimit caps the hits returned per image when the caller sets none.
const defaultLimit = 100

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Case    string `json:"case" jsonschema:"the case whose images are searched"`
	ImageID string `json:"image_id,omitempty" jsonschema:"limit the search to one image ID (default all images in the case)"`
	Query   string `json:"query" jsonschema:"words that must all match, a quoted phrase, or a prefix ending in *"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of hits per image (default 100)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Images []ImageHitsOutput `json:"images"`
	Total  int               `json:"total"`
}

// ImageHitsOutput groups the hits of one image.
type ImageHitsOutput struct {
	ImageID   string      `json:"image_id"`
	ImagePath string      `json:"image_path"`
	Total     int         `json:"total"`
	Hits      []HitOutput `json:"hits"`
}

// HitOutput represents a single search hit.
type HitOutput struct {
	Offset     int64    `json:"offset"`
	DecodePath string   `json:"decode_path,omitempty"`
	Data       string   `json:"data"`
	Allocated  bool     `json:"allocated"`
	Volume     string   `json:"volume,omitempty"`
	Inode      uint64   `json:"inode,omitempty"`
	Files      []string `json:"files,omitempty"`
	FileOffset int64    `json:"file_offset,omitempty"`
}

// SearchListInput is the input schema for the search_list tool.
type SearchListInput struct {
	Case    string   `json:"case" jsonschema:"the case whose images are searched"`
	ImageID string   `json:"image_id,omitempty" jsonschema:"limit the search to one image ID (default all images in the case)"`
	Terms   []string `json:"terms" jsonschema:"terms to count, each searched as an exact phrase"`
}

// SearchListOutput is the output schema for the search_list tool.
type SearchListOutput struct {
	Images []TermCountsOutput `json:"images"`
}

// TermCountsOutput holds the term counts of one image.
type TermCountsOutput struct {
	ImageID   string         `json:"image_id"`
	ImagePath string         `json:"image_path"`
	Counts    map[string]int `json:"counts"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search the strings extracted from the images of a case and report the files they belong to",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_list",
		Description: "Count the hits of several terms in the images of a case",
	}, s.handleSearchList)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Case == "" || input.Query == "" {
		return nil, SearchOutput{}, errors.New("case and query are required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	results, err := s.ports.Search.Search(ctx, domain.SearchRequest{
		CaseID:  input.Case,
		ImageID: input.ImageID,
		Query:   input.Query,
		Limit:   limit,
	})
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("search: %w", err)
	}

	output := SearchOutput{Images: make([]ImageHitsOutput, len(results))}
	for i := range results {
		r := &results[i]
		out := ImageHitsOutput{
			ImageID:   r.Image.ID,
			ImagePath: r.Image.Path,
			Total:     r.Total,
			Hits:      make([]HitOutput, len(r.Hits)),
		}
		for j, h := range r.Hits {
			out.Hits[j] = HitOutput{
				Offset:     h.Offset,
				DecodePath: h.DecodePath,
				Data:       h.Data,
				Allocated:  h.Allocated,
				Volume:     h.Location,
				Inode:      h.Inode,
				Files:      h.FilePaths,
				FileOffset: h.FileOffset,
			}
		}
		output.Images[i] = out
		output.Total += r.Total
	}

	return nil, output, nil
}

// handleSearchList handles the search_list tool invocation.
func (s *Server) handleSearchList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchListInput,
) (*mcp.CallToolResult, SearchListOutput, error) {
	if input.Case == "" || len(input.Terms) == 0 {
		return nil, SearchListOutput{}, errors.New("case and terms are required")
	}

	counts, err := s.ports.Search.SearchList(ctx, input.Case, input.ImageID, input.Terms)
	if err != nil {
		return nil, SearchListOutput{}, fmt.Errorf("search list: %w", err)
	}

	output := SearchListOutput{Images: make([]TermCountsOutput, len(counts))}
	for i := range counts {
		output.Images[i] = TermCountsOutput{
			ImageID:   counts[i].Image.ID,
			ImagePath: counts[i].Image.Path,
			Counts:    counts[i].Counts,
		}
	}
	return nil, output, nil
}
