package embedding

import "context"

// Embedder turns texts into vectors. It never fails: an input whose vector
// could not be produced gets an empty slice at the same index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
	Dimensions() int
}

// One embeds a single text and returns its vector, which may be empty.
func One(ctx context.Context, embedder Embedder, text string) []float32 {
	if embedder == nil {
		return nil
	}
	vectors := embedder.Embed(ctx, []string{text})
	if len(vectors) == 0 {
		return nil
	}
	return vectors[0]
}

// Empty returns one empty vector per input.
func Empty(count int) [][]float32 {
	return make([][]float32, count)
}

// Disabled is the embedder used when no embedding service is configured.
type Disabled struct{}

func (Disabled) Embed(_ context.Context, texts []string) [][]float32 {
	return Empty(len(texts))
}

func (Disabled) Dimensions() int {
	return 0
}
