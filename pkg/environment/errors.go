package environment

import (
	"context"
	"strings"
)

type RequiredEnvError struct {
	Missing []string
}

var _ error = &RequiredEnvError{}

func (e *RequiredEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// Require resolves the given variables in order and returns their values,
// or a RequiredEnvError naming every variable that resolved to empty.
func Require(ctx context.Context, p Provider, names ...string) ([]string, error) {
	values := make([]string, 0, len(names))
	var missing []string

	for _, name := range names {
		value := p.Get(ctx, name)
		if value == "" {
			missing = append(missing, name)
			continue
		}
		values = append(values, value)
	}

	if len(missing) > 0 {
		return nil, &RequiredEnvError{Missing: missing}
	}

	return values, nil
}
