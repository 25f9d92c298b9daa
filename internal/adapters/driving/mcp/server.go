package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/dfdewey/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const (
	serverName  = "dfdewey"
	serverTitle = "dfDewey string search"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// instructions tells connected clients how the tools fit together.
const instructions = `dfDewey searches the strings extracted from forensic disk images.
Images belong to a case and must have been processed with "dfdewey <case> <image>" before they can be searched; this server is read only.

Read dfdewey://cases/{caseId}/images to list the images of a case, their IDs and their processing state. Only images in the "indexed" state return hits.

Use "search" to find strings. A query matches hits containing every word; quote a phrase for an exact match and end a word with * for a prefix. Each hit gives the byte offset of the string in the image. Strings decoded from compressed or encoded data carry a decode path such as "GZIP-56", and the offset is that of the outermost container.

Offsets inside an allocated file report the volume, the inode (the MFT record number on NTFS), every path of that file and the offset within the file. Unallocated offsets have no file; files under /$OrphanFiles exist on disk but no directory names them.

Use "search_list" to count how often several terms occur in each image before fetching individual hits.`

// Server is the MCP server exposing dfDewey searches.
type Server struct {
	ports  *Ports
	server *mcp.Server
}

// NewServer creates a read-only MCP server over the given ports.
func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	impl := &mcp.Implementation{
		Name:    serverName,
		Title:   serverTitle,
		Version: Version,
	}
	opts := &mcp.ServerOptions{
		Instructions: instructions,
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(impl, opts),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves MCP over stdio until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	logger.Debug("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves MCP over streamable HTTP on addr until ctx is done, then
// gives in-flight searches shutdownTimeout to finish.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("MCP server shutdown: %v", err)
		}
	}()

	logger.Info("MCP server listening on %s", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve MCP on %s: %w", addr, err)
	}
	return nil
}
