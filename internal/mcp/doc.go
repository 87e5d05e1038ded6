// Package mcp implements the Model Context Protocol (MCP) server for the
// medical code resolver.
//
// The server exposes five tools to MCP clients:
//   - resolve_entity: Match clinical entity text to ranked regional codes
//   - lookup_code: Fetch one corpus row by system, country and code
//   - embed_corpus: Embed rows lacking a vector for the configured model
//   - normalize_corpus: Populate normalized embedding text
//   - corpus_status: Report corpus size and embedding coverage
//
// The server is started with:
//
//	medcode mcp
//
// It listens on stdin for MCP protocol messages and writes responses to
// stdout. Logs go to stderr.
//
// # Tool: resolve_entity
//
//	Request:
//	{
//	  "name": "resolve_entity",
//	  "arguments": {
//	    "entity_text": "Amoxicillin 500mg",
//	    "entity_type": "medication",
//	    "country": "AU",
//	    "max_candidates": 5
//	  }
//	}
//
//	Response:
//	{
//	  "status": "matched",
//	  "confidence": "high",
//	  "best_match": {"code_value": "AMX500", "combined_score": 0.91, "rank": 1},
//	  "ranked_candidates": [...],
//	  "weights": {"lexical": 0.3, "vector": 0.7}
//	}
//
// A failure of both retrieval passes is reported as status
// "retrieval_unavailable" rather than as an MCP error, so clients can tell
// it apart from "no_match".
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32001: Code not found
//   - -32002: A corpus job is already running
//   - -32004: entity_text is empty
package mcp
