package similarity

import (
	"encoding/binary"
	"math"
)

// Cosine computes the cosine similarity between two float32 vectors.
// Returns a value between -1 and 1 where 1 means identical direction, and 0
// when the vectors are empty, differ in length, or either has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}

// BytesToFloat32 decodes a little-endian float32 blob, the layout sqlite-vec
// uses for vectors stored as BLOBs.
func BytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
