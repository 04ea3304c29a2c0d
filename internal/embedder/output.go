package embedder

import (
	"fmt"
	"math"

	"github.com/bowerhall/mira/internal/apperr"
)

// Output is a raw model result. Shape describes Data; Mask marks attended
// tokens when the model returns per-token states.
type Output struct {
	Data  []float32
	Shape []int64
	Mask  []int64

	// Normalize scales the pooled vector to unit length.
	Normalize bool
}

// Vector reduces the output to one flat vector of length dim:
// rank 0/1 is used as is, rank 2 takes the first row, and rank 3
// mean-pools the first sequence over attended tokens.
func (o Output) Vector(dim int) ([]float32, error) {
	const op = "embedder.Vector"

	var vec []float32

	switch len(o.Shape) {
	case 0, 1:
		vec = o.Data
	case 2:
		rows, cols := o.Shape[0], o.Shape[1]
		if rows < 1 || int64(len(o.Data)) < rows*cols {
			return nil, apperr.Validation(op, fmt.Sprintf("output shape %v does not match %d values", o.Shape, len(o.Data)))
		}
		vec = o.Data[:cols]
	case 3:
		pooled, err := meanPool(o.Data, o.Shape, o.Mask)
		if err != nil {
			return nil, apperr.Validation(op, err.Error())
		}
		vec = pooled
	default:
		return nil, apperr.Validation(op, fmt.Sprintf("unsupported output rank %d", len(o.Shape)))
	}

	if len(vec) != dim {
		return nil, apperr.Validation(op, fmt.Sprintf("embedding has %d dimensions, want %d", len(vec), dim))
	}

	out := make([]float32, dim)
	copy(out, vec)

	// a zero vector has no direction; cosine distance against it is NULL
	if zeroNorm(out) {
		return nil, apperr.Validation(op, "embedding has zero norm")
	}

	if o.Normalize {
		normalize(out)
	}

	return out, nil
}

func meanPool(data []float32, shape, mask []int64) ([]float32, error) {
	batch, seq, hidden := shape[0], shape[1], shape[2]
	if batch < 1 || int64(len(data)) < batch*seq*hidden {
		return nil, fmt.Errorf("output shape %v does not match %d values", shape, len(data))
	}
	if mask != nil && int64(len(mask)) < seq {
		return nil, fmt.Errorf("attention mask has %d entries for %d tokens", len(mask), seq)
	}

	pooled := make([]float32, hidden)
	var attended float32

	for i := int64(0); i < seq; i++ {
		if mask != nil && mask[i] == 0 {
			continue
		}
		attended++
		row := data[i*hidden : (i+1)*hidden]
		for j, v := range row {
			pooled[j] += v
		}
	}

	if attended == 0 {
		return nil, fmt.Errorf("no attended tokens")
	}

	for j := range pooled {
		pooled[j] /= attended
	}

	return pooled, nil
}

func zeroNorm(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}
