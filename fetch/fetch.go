// Package fetch resolves a task.Input's contents to bytes to be staged into
// an execution environment.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/crankshaft-oss/crankshaft/backend"
	"github.com/crankshaft-oss/crankshaft/task"
)

// Fetch resolves input.Contents to bytes, dispatching on its URL scheme.
// A contents value with no scheme (no "://") is treated as an inline
// literal and returned as-is. The "file" scheme reads the referenced path
// fully into memory. "http", "https", and "s3" are reserved extension
// points and currently return an error wrapping backend.ErrUnsupportedScheme,
// as do any other schemes.
func Fetch(ctx context.Context, input task.Input) ([]byte, error) {
	if !strings.Contains(input.Contents, "://") {
		return []byte(input.Contents), nil
	}
	u, err := url.Parse(input.Contents)
	if err != nil || u.Scheme == "" {
		return []byte(input.Contents), nil
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https", "s3":
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedScheme, u.Scheme)
	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedScheme, u.Scheme)
	}
}
