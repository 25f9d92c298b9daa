package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// URIScheme is the custom URI scheme for dfDewey resources.
	uriScheme = "dfdewey://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "cases/{caseId}/images",
		Name:        "case-images",
		Description: "Images attached to a case and their processing state",
		MIMEType:    "application/json",
	}, s.handleImagesResource)
}

// handleImagesResource returns the images of a case.
func (s *Server) handleImagesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	caseID := extractCaseID(req.Params.URI)
	if caseID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	type imageInfo struct {
		ID          string    `json:"id"`
		Path        string    `json:"path"`
		State       string    `json:"state"`
		FailedStage string    `json:"failed_stage,omitempty"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	infos := []imageInfo{}
	if s.ports.Cases != nil {
		images, err := s.ports.Cases.Images(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("listing images: %w", err)
		}
		for _, img := range images {
			infos = append(infos, imageInfo{
				ID:          img.ID,
				Path:        img.Path,
				State:       img.State.String(),
				FailedStage: string(img.FailedStage),
				UpdatedAt:   img.UpdatedAt,
			})
		}
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling images: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractCaseID extracts the case ID from a URI like dfdewey://cases/{caseId}/images.
func extractCaseID(uri string) string {
	const prefix = uriScheme + "cases/"
	const suffix = "/images"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	uri = strings.TrimPrefix(uri, prefix)
	if !strings.HasSuffix(uri, suffix) {
		return ""
	}

	caseID := strings.TrimSuffix(uri, suffix)
	if strings.Contains(caseID, "/") {
		return ""
	}
	return caseID
}
