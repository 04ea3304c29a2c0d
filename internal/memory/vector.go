package memory

import (
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"

	"github.com/bowerhall/mira/internal/apperr"
)

func (s *Store) checkDimension(op string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return apperr.Validation(op, fmt.Sprintf("embedding has %d dimensions, want %d", len(embedding), s.dimension))
	}
	return nil
}

func serializeEmbedding(embedding []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(embedding)
}

// deserializeEmbedding reverses SerializeFloat32 (little-endian float32).
func deserializeEmbedding(blob []byte) ([]float32, error) {
	if blob == nil {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(blob))
	}

	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
