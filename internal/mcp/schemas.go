package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var entityTypes = []string{"medication", "procedure", "condition", "observation", "allergy"}

// corpusFilterProperties are shared by the corpus job tools
func corpusFilterProperties() map[string]interface{} {
	return map[string]interface{}{
		"code_system": map[string]interface{}{
			"type":        "string",
			"description": "Restrict the run to one code system (e.g., 'national-medication-formulary')",
		},
		"country": map[string]interface{}{
			"type":        "string",
			"description": "Restrict the run to one ISO country code",
		},
		"entity_type": map[string]interface{}{
			"type":        "string",
			"description": "Restrict the run to one entity type",
			"enum":        entityTypes,
		},
		"batch_size": map[string]interface{}{
			"type":        "integer",
			"description": "Rows fetched and embedded per batch",
			"default":     50,
			"minimum":     1,
			"maximum":     1000,
		},
		"dry_run_limit": map[string]interface{}{
			"type":        "integer",
			"description": "If > 0, process at most this many rows and return before/after samples for review",
			"default":     0,
			"minimum":     0,
		},
	}
}

// resolveEntityTool returns the tool definition for resolve_entity
func resolveEntityTool() mcp.Tool {
	return mcp.Tool{
		Name:        "resolve_entity",
		Description: "Match clinical entity text (medication, procedure, condition...) to ranked regional codes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity_text": map[string]interface{}{
					"type":        "string",
					"description": "Entity text as detected upstream (e.g., 'Amoxicillin 500mg')",
				},
				"interpreted_text": map[string]interface{}{
					"type":        "string",
					"description": "Optional expanded interpretation; used instead of entity_text when longer",
				},
				"entity_type": map[string]interface{}{
					"type":        "string",
					"description": "Restrict candidates to one entity type",
					"enum":        entityTypes,
				},
				"country": map[string]interface{}{
					"type":        "string",
					"description": "ISO country code of the target code set (e.g., 'AU')",
				},
				"code_system": map[string]interface{}{
					"type":        "string",
					"description": "Restrict candidates to one code system",
				},
				"max_candidates": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of ranked candidates to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Drop candidates whose combined score is below this threshold (0.0-1.0)",
					"default":     0.0,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"lexical_weight": map[string]interface{}{
					"type":        "number",
					"description": "Override the lexical weight; the vector weight becomes 1 - lexical_weight",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated identical queries from the response cache",
					"default":     true,
				},
			},
			Required: []string{"entity_text"},
		},
	}
}

// lookupCodeTool returns the tool definition for lookup_code
func lookupCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "lookup_code",
		Description: "Fetch one corpus entry by code system, country and code value",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code_system": map[string]interface{}{
					"type":        "string",
					"description": "Code system of the entry",
				},
				"country": map[string]interface{}{
					"type":        "string",
					"description": "ISO country code of the entry",
				},
				"code_value": map[string]interface{}{
					"type":        "string",
					"description": "Code value within the code system",
				},
			},
			Required: []string{"code_system", "country", "code_value"},
		},
	}
}

// embedCorpusTool returns the tool definition for embed_corpus
func embedCorpusTool() mcp.Tool {
	props := corpusFilterProperties()
	props["workers"] = map[string]interface{}{
		"type":        "integer",
		"description": "Concurrent embedding calls per batch (1-4); provider pacing still applies",
		"default":     1,
		"minimum":     1,
		"maximum":     4,
	}
	props["skip_empty_normalization"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Skip rows whose normalized text is empty instead of embedding the raw display name",
		"default":     false,
	}

	return mcp.Tool{
		Name:        "embed_corpus",
		Description: "Embed corpus rows that lack an embedding for the current model. Safe to re-run; finished rows are never re-embedded",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}

// normalizeCorpusTool returns the tool definition for normalize_corpus
func normalizeCorpusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "normalize_corpus",
		Description: "Populate normalized embedding text for corpus rows that lack it",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: corpusFilterProperties(),
		},
	}
}

// corpusStatusTool returns the tool definition for corpus_status
func corpusStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "corpus_status",
		Description: "Report corpus size, normalization and embedding coverage for the current model",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
