package store

import (
	"encoding/binary"
	"math"
)

// ChunkTexts fetches the content of each chunk id, used by the Embedder to
// build its input batch.
func (s *Store) ChunkTexts(chunkIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	placeholders := make([]interface{}, len(chunkIDs))
	query := "SELECT id, chunk_content FROM context_chunks WHERE id IN ("
	for i, id := range chunkIDs {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders[i] = id
	}
	query += ")"

	rows, err := s.db.Query(query, placeholders...)
	if err != nil {
		return nil, classify("ChunkTexts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, classify("ChunkTexts", err)
		}
		out[id] = content
	}

	return out, rows.Err()
}

// WriteEmbedding persists one embedding row for chunkID, upserting on
// repeated VectoriseChunks calls for the same chunk.
func (s *Store) WriteEmbedding(chunkID int64, vector []float32) error {
	blob := encodeVector(vector)
	_, err := s.db.Exec(
		`INSERT INTO context_chunk_embeddings (chunk_id, vector, dimension)
		 VALUES (?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, dimension = excluded.dimension, created_at = CURRENT_TIMESTAMP`,
		chunkID, blob, len(vector),
	)
	if err != nil {
		return classify("WriteEmbedding", err)
	}
	return nil
}

// HasEmbedding reports whether chunkID already has a persisted embedding.
func (s *Store) HasEmbedding(chunkID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM context_chunk_embeddings WHERE chunk_id = ?`, chunkID).Scan(&n)
	if err != nil {
		return false, classify("HasEmbedding", err)
	}
	return n > 0, nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is kept alongside encodeVector for symmetry and future
// read-back operations (e.g. similarity search), even though no current
// component reads embeddings back yet.
func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
