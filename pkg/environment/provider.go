package environment

import "context"

// Provider resolves environment variables for model and voice credentials.
type Provider interface {
	// Get retrieves the value of an environment variable by name.
	// An empty string means the variable is not set.
	Get(ctx context.Context, name string) string
}
