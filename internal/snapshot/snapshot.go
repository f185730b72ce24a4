// Package snapshot archives raw source responses so parser regressions can
// be reproduced against the exact HTML a live site returned.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Store persists one raw response body and returns a URI for it.
type Store interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PathFor builds a stable archive path for one lookup response.
func PathFor(source, key string, at time.Time) string {
	source = unsafePathChars.ReplaceAllString(source, "_")
	key = unsafePathChars.ReplaceAllString(key, "_")
	if key == "" {
		key = "index"
	}
	return fmt.Sprintf("%s/%s/%s.html", source, key, at.UTC().Format("20060102T150405Z"))
}
