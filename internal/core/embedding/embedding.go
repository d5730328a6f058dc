// Package embedding berechnet kompakte Gesichtssignaturen (Embeddings) aus
// Bildausschnitten und vergleicht sie per Kosinus-Ähnlichkeit.
package embedding

import (
	"errors"
	"fmt"
	"math"
)

// Size ist die feste Länge jedes Embeddings in Bytes
const Size = 128

// ErrLengthMismatch wird zurückgegeben, wenn ein Embedding nicht genau Size Bytes lang ist
var ErrLengthMismatch = errors.New("embedding length mismatch")

// Embedding ist eine Signatur aus Size vorzeichenlosen Bytes.
// Einmal erzeugt wird sie nicht mehr verändert.
type Embedding []byte

// FromBytes prüft die Länge und gibt eine Kopie der Bytes als Embedding zurück
func FromBytes(b []byte) (Embedding, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(b), Size)
	}
	return Embedding(b).Clone(), nil
}

// Clone gibt eine unabhängige Kopie zurück
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Valid meldet, ob das Embedding genau Size Bytes hat
func (e Embedding) Valid() bool {
	return len(e) == Size
}

// Equal vergleicht zwei Embeddings byteweise
func (e Embedding) Equal(other Embedding) bool {
	if len(e) != len(other) {
		return false
	}
	for i := range e {
		if e[i] != other[i] {
			return false
		}
	}
	return true
}

// Similarity berechnet die Kosinus-Ähnlichkeit zweier Embeddings im Bereich [0, 1].
// Ist eine der Normen null, ist das Ergebnis 0.
func Similarity(a, b Embedding) (float64, error) {
	if len(a) != Size || len(b) != Size {
		return 0, fmt.Errorf("%w: %d vs %d bytes", ErrLengthMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	// sqrt(normA*normB) keeps Similarity(a, a) at exactly 1
	similarity := dot / math.Sqrt(normA*normB)
	if similarity > 1 {
		similarity = 1
	}
	return similarity, nil
}
