// Package hash is a deterministic, offline embedder for development and
// tests. Each lowercased word seeds a pseudo-random unit direction; a text is
// the normalised sum of its words, so texts sharing words land close together.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimensions = 384

type Embedder struct {
	dimensions int
}

func New(dimensions int) *Embedder {
	if dimensions < 1 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) Embed(_ context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors
}

func (e *Embedder) embed(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil
	}
	sum := make([]float64, e.dimensions)
	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		seed := h.Sum64()
		for i := range sum {
			seed = seed*6364136223846793005 + 1442695040888963407
			sum[i] += float64(int64(seed)) / float64(math.MaxInt64)
		}
	}
	return normalize(sum)
}

func normalize(values []float64) []float32 {
	norm := 0.0
	for _, value := range values {
		norm += value * value
	}
	out := make([]float32, len(values))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, value := range values {
		out[i] = float32(value / norm)
	}
	return out
}
