package radar

import (
	"context"
	"io"
)

// Fetcher pulls one source's imagery from its upstream into the cache.
//
// A nil error means the sync as a whole completed and the source's last-sync
// time may advance; individual frame failures are logged by the fetcher and
// do not produce an error.
type Fetcher interface {
	Source() Source
	Fetch(ctx context.Context, cache Cache) error
}

// Cache is the contract the on-disk frame cache satisfies for fetchers and
// the service.
type Cache interface {
	// List returns the sanitized frame names cached for src, ascending.
	List(src Source) ([]string, error)
	// WriteFrame stores the content of r as src/name, replacing any existing
	// frame only once the content is complete.
	WriteFrame(src Source, name string, r io.Reader) error
}
