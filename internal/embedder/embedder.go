// Package embedder asynchronously computes and persists vector embeddings
// for chunks written by the write path. It is a fire-and-forget sink: the
// WriteDB success response never waits on it, and its own failures never
// surface to a client.
package embedder

import (
	"encoding/json"
	"log"

	"github.com/contextbroker/contextbroker/internal/jobqueue"
)

// chunkTextFetcher and embeddingWriter are the narrow Store dependencies the
// embedder needs.
type chunkTextFetcher interface {
	ChunkTexts(chunkIDs []int64) (map[int64]string, error)
}

type embeddingWriter interface {
	WriteEmbedding(chunkID int64, vector []float32) error
}

// Vectorizer computes a fixed-dimension embedding for a chunk's text. The
// broker's core specifies only the job's contract, not the model; a real
// deployment swaps this for a call into an embedding service.
type Vectorizer interface {
	Embed(text string) ([]float32, error)
}

// job is the wire shape published on jobqueue.SubjectEmbedChunks.
type job struct {
	ChunkIDs []int64 `json:"chunk_ids"`
}

// Embedder runs a small worker pool consuming chunk-id batches from the job
// queue.
type Embedder struct {
	client     *jobqueue.Client
	store      chunkTextFetcher
	writer     embeddingWriter
	vectorizer Vectorizer
	workers    int
}

// Config bundles the Embedder's construction parameters.
type Config struct {
	Client     *jobqueue.Client
	Store      chunkTextFetcher
	Writer     embeddingWriter
	Vectorizer Vectorizer
	Workers    int // clamped to [2,4]
}

// New constructs an Embedder. It does not start consuming until Start is
// called.
func New(cfg Config) *Embedder {
	workers := cfg.Workers
	if workers < 2 {
		workers = 2
	}
	if workers > 4 {
		workers = 4
	}

	return &Embedder{
		client:     cfg.Client,
		store:      cfg.Store,
		writer:     cfg.Writer,
		vectorizer: cfg.Vectorizer,
		workers:    workers,
	}
}

// Start subscribes the worker pool to the embedding job subject. If the job
// queue is unavailable, it logs and returns without starting — the write
// path must never depend on the embedder being healthy.
func (e *Embedder) Start() {
	if e.client == nil {
		log.Printf("[EMBED] job queue client unavailable, embedding disabled")
		return
	}

	for i := 0; i < e.workers; i++ {
		_, err := e.client.QueueSubscribe(jobqueue.SubjectEmbedChunks, "embedders", e.handle)
		if err != nil {
			log.Printf("[EMBED] worker %d failed to subscribe: %v", i, err)
		}
	}
}

// Enqueue publishes a fire-and-forget embedding job for chunkIDs. A nil
// client (job queue absent) is a silent no-op: the write path's success does
// not depend on this call.
func (e *Embedder) Enqueue(chunkIDs []int64) {
	if e.client == nil || len(chunkIDs) == 0 {
		return
	}
	if err := e.client.PublishJSON(jobqueue.SubjectEmbedChunks, job{ChunkIDs: chunkIDs}); err != nil {
		log.Printf("[EMBED] failed to enqueue job for %d chunks: %v", len(chunkIDs), err)
	}
}

func (e *Embedder) handle(msg *jobqueue.Message) {
	var j job
	if err := json.Unmarshal(msg.Data, &j); err != nil {
		log.Printf("[EMBED] malformed job payload: %v", err)
		return
	}
	e.process(j.ChunkIDs)
}

// process fetches chunk texts, computes vectors, and writes one embedding
// row per chunk. Any failure is logged and the job terminates; reads remain
// correct regardless since embeddings are an optimization surface.
func (e *Embedder) process(chunkIDs []int64) {
	texts, err := e.store.ChunkTexts(chunkIDs)
	if err != nil {
		log.Printf("[EMBED] failed to fetch chunk texts: %v", err)
		return
	}

	for _, id := range chunkIDs {
		text, ok := texts[id]
		if !ok {
			continue
		}

		vector, err := e.vectorizer.Embed(text)
		if err != nil {
			log.Printf("[EMBED] failed to embed chunk %d: %v", id, err)
			continue
		}

		if err := e.writer.WriteEmbedding(id, vector); err != nil {
			log.Printf("[EMBED] failed to write embedding for chunk %d: %v", id, err)
		}
	}
}
