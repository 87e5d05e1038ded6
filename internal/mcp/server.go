package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "medcode-resolver"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	model    string
	logger   zerolog.Logger
}

// NewServer creates a new MCP server instance. The caller owns store and
// closes it after Serve returns.
func NewServer(store storage.Storage, idx *indexer.Indexer, srch *searcher.Searcher, model string, logger zerolog.Logger) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		storage:  store,
		indexer:  idx,
		searcher: srch,
		model:    model,
		logger:   logger.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info().Str("model", s.model).Msg("serving MCP on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(resolveEntityTool(), s.handleResolveEntity)
	s.mcp.AddTool(lookupCodeTool(), s.handleLookupCode)
	s.mcp.AddTool(embedCorpusTool(), s.handleEmbedCorpus)
	s.mcp.AddTool(normalizeCorpusTool(), s.handleNormalizeCorpus)
	s.mcp.AddTool(corpusStatusTool(), s.handleCorpusStatus)
}
