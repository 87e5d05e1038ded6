package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeCodeNotFound  = -32001 // No corpus row for the requested key
	ErrorCodeJobRunning    = -32002 // Another corpus job is already running
	ErrorCodeEmptyQuery    = -32004 // Entity text is empty
)

const maxCandidatesLimit = 100

// handleResolveEntity handles the resolve_entity tool invocation
func (s *Server) handleResolveEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text := strings.TrimSpace(getStringDefault(args, "entity_text", ""))
	if text == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "entity_text parameter is required and cannot be empty", map[string]interface{}{
			"param":  "entity_text",
			"reason": "missing or empty",
		})
	}

	entityType := types.EntityType(getStringDefault(args, "entity_type", ""))
	if entityType != "" && !entityType.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid entity_type", map[string]interface{}{
			"param": "entity_type",
			"value": string(entityType),
			"valid": entityTypes,
		})
	}

	maxCandidates := getIntDefault(args, "max_candidates", types.DefaultMaxCandidates)
	if maxCandidates < 1 || maxCandidates > maxCandidatesLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_candidates must be between 1 and 100", map[string]interface{}{
			"param": "max_candidates",
			"value": maxCandidates,
		})
	}

	req := searcher.ResolveRequest{
		EntityText:      text,
		InterpretedText: getStringDefault(args, "interpreted_text", ""),
		EntityType:      entityType,
		Country:         getStringDefault(args, "country", ""),
		CodeSystem:      getStringDefault(args, "code_system", ""),
		MaxCandidates:   maxCandidates,
		MinSimilarity:   getFloatDefault(args, "min_similarity", 0),
		UseCache:        getBoolDefault(args, "use_cache", true),
	}
	if lw, ok := args["lexical_weight"].(float64); ok {
		req.Weights = &searcher.Weights{Lexical: lw, Vector: 1 - lw}
	}

	resp, err := s.searcher.Resolve(ctx, req)
	if err != nil {
		if errors.Is(err, searcher.ErrInvalidRequest) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid resolve request", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "resolution failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Retrieval outages come back as a status, not an MCP error, so the
	// caller can distinguish them from "no match".
	return mcp.NewToolResultText(formatJSON(toMap(resp))), nil
}

// handleLookupCode handles the lookup_code tool invocation
func (s *Server) handleLookupCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	key := storage.CodeKey{
		CodeSystem:  strings.TrimSpace(getStringDefault(args, "code_system", "")),
		CountryCode: strings.ToUpper(strings.TrimSpace(getStringDefault(args, "country", ""))),
		CodeValue:   strings.TrimSpace(getStringDefault(args, "code_value", "")),
	}
	for param, v := range map[string]string{"code_system": key.CodeSystem, "country": key.CountryCode, "code_value": key.CodeValue} {
		if v == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, param+" parameter is required", map[string]interface{}{
				"param":  param,
				"reason": "missing or empty",
			})
		}
	}

	entry, err := s.storage.GetCodeEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeCodeNotFound, "code not found", map[string]interface{}{
			"code_system": key.CodeSystem,
			"country":     key.CountryCode,
			"code_value":  key.CodeValue,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load code", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"code_system":  entry.CodeSystem,
		"code_value":   entry.CodeValue,
		"country_code": entry.CountryCode,
		"display_name": entry.DisplayName,
		"entity_type":  entry.EntityType,
		"active":       entry.Active,
		"embedded":     entry.EmbeddingModel == s.model && len(entry.Embedding) > 0,
	}
	if entry.SearchText != "" {
		response["search_text"] = entry.SearchText
	}
	if entry.NormalizedText != nil {
		response["normalized_text"] = *entry.NormalizedText
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleEmbedCorpus handles the embed_corpus tool invocation
func (s *Server) handleEmbedCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	config, err := jobConfig(args)
	if err != nil {
		return nil, err
	}
	config.Workers = getIntDefault(args, "workers", 1)
	if config.Workers < 1 || config.Workers > indexer.MaxWorkers {
		return nil, newMCPError(ErrorCodeInvalidParams, "workers must be between 1 and 4", map[string]interface{}{
			"param": "workers",
			"value": config.Workers,
		})
	}
	config.SkipOnEmptyNormalization = getBoolDefault(args, "skip_empty_normalization", false)

	stats, err := s.indexer.EmbedCorpus(ctx, config)
	if err != nil {
		return nil, jobError("embedding failed", err)
	}

	// New vectors change rankings
	if stats.Succeeded > 0 {
		s.searcher.InvalidateCache()
	}

	return mcp.NewToolResultText(formatJSON(toMap(stats))), nil
}

// handleNormalizeCorpus handles the normalize_corpus tool invocation
func (s *Server) handleNormalizeCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	config, err := jobConfig(args)
	if err != nil {
		return nil, err
	}

	stats, err := s.indexer.NormalizeCorpus(ctx, config)
	if err != nil {
		return nil, jobError("normalization failed", err)
	}

	return mcp.NewToolResultText(formatJSON(toMap(stats))), nil
}

// handleCorpusStatus handles the corpus_status tool invocation
func (s *Server) handleCorpusStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx, s.model)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := toMap(status)
	response["job_running"] = s.indexer.Running()

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// jobConfig builds an indexer config from the shared filter arguments
func jobConfig(args map[string]interface{}) (*indexer.Config, error) {
	entityType := types.EntityType(getStringDefault(args, "entity_type", ""))
	if entityType != "" && !entityType.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid entity_type", map[string]interface{}{
			"param": "entity_type",
			"value": string(entityType),
			"valid": entityTypes,
		})
	}

	batchSize := getIntDefault(args, "batch_size", indexer.DefaultBatchSize)
	if batchSize < 1 || batchSize > 1000 {
		return nil, newMCPError(ErrorCodeInvalidParams, "batch_size must be between 1 and 1000", map[string]interface{}{
			"param": "batch_size",
			"value": batchSize,
		})
	}

	dryRun := getIntDefault(args, "dry_run_limit", 0)
	if dryRun < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "dry_run_limit cannot be negative", map[string]interface{}{
			"param": "dry_run_limit",
			"value": dryRun,
		})
	}

	return &indexer.Config{
		Filter: storage.Filter{
			CodeSystem:  getStringDefault(args, "code_system", ""),
			CountryCode: strings.ToUpper(getStringDefault(args, "country", "")),
			EntityType:  entityType,
		},
		BatchSize:   batchSize,
		DryRunLimit: dryRun,
	}, nil
}

// jobError maps indexer failures to MCP errors
func jobError(message string, err error) error {
	if errors.Is(err, indexer.ErrJobRunning) {
		return newMCPError(ErrorCodeJobRunning, "a corpus job is already running", nil)
	}
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMap round-trips a tagged struct through JSON so responses share its field names
func toMap(v interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	raw, err := json.Marshal(v)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
