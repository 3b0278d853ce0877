package embedder

import "hash/fnv"

// HashVectorizer computes a deterministic, fixed-dimension placeholder
// vector from a seeded hash of the input text. It stands in for a real
// embedding model — the broker's core specifies the job's contract, not its
// math — and is useful for exercising the write-through path in tests and
// local development without a model dependency.
type HashVectorizer struct {
	Dimension int
}

// NewHashVectorizer constructs a HashVectorizer producing vectors of the
// given dimensionality.
func NewHashVectorizer(dimension int) *HashVectorizer {
	if dimension <= 0 {
		dimension = 128
	}
	return &HashVectorizer{Dimension: dimension}
}

// Embed computes the placeholder vector for text.
func (v *HashVectorizer) Embed(text string) ([]float32, error) {
	vec := make([]float32, v.Dimension)
	h := fnv.New64a()

	for i := 0; i < v.Dimension; i++ {
		h.Reset()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		sum := h.Sum64()
		vec[i] = float32(sum%2000-1000) / 1000.0
	}

	return vec, nil
}
