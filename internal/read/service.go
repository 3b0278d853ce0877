// Package read executes permission-resolved predicates against the Store and
// projects the result into the wire shape ReadDB returns.
package read

import (
	"fmt"

	"github.com/contextbroker/contextbroker/internal/permission"
	"github.com/contextbroker/contextbroker/internal/store"
)

// chunkLister is the narrow Store dependency ReadService needs.
type chunkLister interface {
	ListChunksForAgent(p store.Predicate, limit int) ([]store.ChunkRecord, error)
}

// MaxResults is the fixed page size for every ReadDB call.
const MaxResults = 10

// Record is the {context, timestamp} projection returned to the client.
type Record struct {
	Context   string `json:"context"`
	Timestamp string `json:"timestamp"`
}

// Service executes a resolver predicate against the Store.
type Service struct {
	store    chunkLister
	resolver *permission.Resolver
}

// New constructs a Service.
func New(store chunkLister, resolver *permission.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// Read resolves req into a predicate and returns up to MaxResults chunks,
// newest first. An empty match is an empty slice, never an error.
func (s *Service) Read(req permission.Request) ([]Record, error) {
	pred, err := s.resolver.Resolve(req)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	rows, err := s.store.ListChunksForAgent(pred, MaxResults)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = Record{
			Context:   r.ChunkContent,
			Timestamp: r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}

	return out, nil
}
