package coastline

import (
	"context"
	"errors"
)

// ErrRateLimited marks a generation-service error caused by rate limiting.
// Call sites retry it with backoff; the workflow engine never sees it unless
// retries exhaust.
var ErrRateLimited = errors.New("generation service rate limited")

// GenerationRequest is the input to one generation call: the full message
// log (system prompt first) plus the tool set the service may request.
type GenerationRequest struct {
	Messages []Message
	Tools    []ToolDefinition
}

// GenerationResponse is what the generation service returned: free text, tool
// call requests, or both. The engine treats the service as a black box; it
// only looks at whether tool calls were requested.
type GenerationResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// GenerationClient is the external itinerary-proposal service. Implementations
// must be safe for concurrent use by multiple session threads and must not
// leak per-session state between calls; construct one and inject it.
type GenerationClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}
