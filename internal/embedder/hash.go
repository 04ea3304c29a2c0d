package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// hashModel is a dependency-free bag-of-words model: each word seeds a
// pseudo-random direction and the text vector is their sum. Texts sharing
// words land close together, which is enough for development and tests.
type hashModel struct {
	dimension int
}

func hashLoader(dimension int) Loader {
	return func(ctx context.Context) (Model, error) {
		return &hashModel{dimension: dimension}, nil
	}
}

func (m *hashModel) Infer(ctx context.Context, text string) (Output, error) {
	data := make([]float32, m.dimension)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		seed := h.Sum64()

		for i := range data {
			seed = seed*6364136223846793005 + 1442695040888963407
			data[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	// batch-shaped like a pooled transformer output
	return Output{
		Data:      data,
		Shape:     []int64{1, int64(m.dimension)},
		Normalize: true,
	}, nil
}

func (m *hashModel) Close() error {
	return nil
}
