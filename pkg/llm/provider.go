package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a completion request and returns a channel of chunks.
	// The channel is closed after the final chunk. A mid-stream failure is
	// delivered as a trailing Chunk with Err set.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Config holds common configuration for providers.
type Config struct {
	BaseURL string
	APIKey  string
	Roles   map[Role]RoleConfig
	Retry   RetryPolicy
}

// RoleOrDefault returns the configured parameters for role, falling back to
// the planner's configuration when the role is absent.
func (c *Config) RoleOrDefault(role Role) RoleConfig {
	if rc, ok := c.Roles[role]; ok {
		return rc
	}
	return c.Roles[RolePlanner]
}
