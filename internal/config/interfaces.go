package config

import "context"

// SecretProvider abstracts the retrieval of secrets referenced by
// *_SSM_PARAM variables.
type SecretProvider interface {
	// GetParametersBatch resolves the given keys. Keys that cannot be found
	// are omitted from the result.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
