package embedding

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

const (
	gridSize     = 16  // Zellen pro Achse
	lbpRadius    = 1   // Radius der LBP-Nachbarschaft
	standardSize = 160 // Kantenlänge nach der Vorverarbeitung
	fallbackSize = 16  // Kantenlänge für das einfache Fallback-Embedding

	lbpWeight       float32 = 0.4
	intensityWeight float32 = 0.3
	edgeWeight      float32 = 0.3
)

var errEmptyImage = errors.New("image is nil or empty")

// neighborOffsets enthält die 8 LBP-Nachbarn im 45°-Abstand, beginnend bei 0°
var neighborOffsets = func() [8]image.Point {
	var offsets [8]image.Point
	for i := range offsets {
		angle := float64(i) * math.Pi / 4
		offsets[i] = image.Point{
			X: int(math.Round(lbpRadius * math.Cos(angle))),
			Y: int(math.Round(lbpRadius * math.Sin(angle))),
		}
	}
	return offsets
}()

// plane ist ein einkanaliges Luminanzbild
type plane struct {
	w, h int
	pix  []uint8
}

func (p *plane) at(x, y int) int {
	return int(p.pix[y*p.w+x])
}

// Extract berechnet das Embedding eines Bildes. Die Funktion schlägt nie fehl:
// Kann die Merkmalsextraktion nicht durchgeführt werden, wird das einfache
// 16x16-Luminanz-Embedding verwendet.
func Extract(img image.Image) Embedding {
	out, err := extract(img)
	if err != nil {
		log.WithError(err).Debug("Feature extraction failed, using fallback embedding")
		return fallback(img)
	}
	return out
}

func extract(img image.Image) (out Embedding, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("feature extraction panicked: %v", r)
		}
	}()

	processed, err := preprocess(img)
	if err != nil {
		log.WithError(err).Debug("Preprocessing failed, extracting from original image")
		processed, err = toPlane(img)
		if err != nil {
			return nil, err
		}
	}

	return combine(
		lbpFeatures(processed),
		intensityFeatures(processed),
		edgeFeatures(processed),
	), nil
}

// preprocess skaliert auf standardSize x standardSize und entsättigt das Bild
func preprocess(img image.Image) (p *plane, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("preprocessing panicked: %v", r)
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return nil, errEmptyImage
	}

	scaled := image.NewRGBA(image.Rect(0, 0, standardSize, standardSize))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return toPlane(scaled)
}

// toPlane wandelt ein Bild in Luminanzwerte um (Zeilen zuerst)
func toPlane(img image.Image) (*plane, error) {
	if img == nil {
		return nil, errEmptyImage
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errEmptyImage
	}

	p := &plane{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < p.h; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < p.w; x++ {
				i := (x + b.Min.X - src.Rect.Min.X) * 4
				p.pix[y*p.w+x] = luminance(row[i], row[i+1], row[i+2])
			}
		}
	case *image.Gray:
		for y := 0; y < p.h; y++ {
			off := (y+b.Min.Y-src.Rect.Min.Y)*src.Stride + b.Min.X - src.Rect.Min.X
			copy(p.pix[y*p.w:(y+1)*p.w], src.Pix[off:off+p.w])
		}
	default:
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				p.pix[y*p.w+x] = Luminance(img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	return p, nil
}

// Luminance gibt die entsättigte Helligkeit einer Farbe zurück
func Luminance(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	return luminance(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// luminance nutzt die Gewichte der Sättigungsmatrix (0.213, 0.715, 0.072)
func luminance(r, g, b uint8) uint8 {
	return uint8((213*uint32(r) + 715*uint32(g) + 72*uint32(b) + 500) / 1000)
}

func lbpFeatures(p *plane) []uint8 {
	cellW, cellH := p.w/gridSize, p.h/gridSize
	features := make([]uint8, gridSize*gridSize)

	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			cx := gx*cellW + cellW/2
			cy := gy*cellH + cellH/2
			center := p.at(cx, cy)

			var pattern uint8
			for i, off := range neighborOffsets {
				nx := clamp(cx+off.X, 0, p.w-1)
				ny := clamp(cy+off.Y, 0, p.h-1)
				if p.at(nx, ny) > center {
					pattern |= 1 << i
				}
			}
			features[gy*gridSize+gx] = pattern
		}
	}
	return features
}

func intensityFeatures(p *plane) []uint8 {
	cellW, cellH := p.w/gridSize, p.h/gridSize
	features := make([]uint8, gridSize*gridSize)

	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			sum, count := 0, 0
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				for x := gx * cellW; x < (gx+1)*cellW; x++ {
					sum += p.at(x, y)
					count++
				}
			}
			if count > 0 {
				features[gy*gridSize+gx] = uint8(sum / count)
			}
		}
	}
	return features
}

// edgeFeatures liefert pro Zelle den mittleren horizontalen und vertikalen Gradienten
func edgeFeatures(p *plane) []uint8 {
	cellW, cellH := p.w/gridSize, p.h/gridSize
	features := make([]uint8, gridSize*gridSize*2)

	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			startX, startY := gx*cellW, gy*cellH
			horizontal, vertical, count := 0, 0, 0

			for y := startY; y < startY+cellH-1; y++ {
				for x := startX; x < startX+cellW-1; x++ {
					horizontal += abs(p.at(x+1, y) - p.at(x, y))
					vertical += abs(p.at(x, y+1) - p.at(x, y))
					count++
				}
			}

			if count > 0 {
				idx := gy*gridSize*2 + gx*2
				features[idx] = uint8(horizontal / count)
				features[idx+1] = uint8(vertical / count)
			}
		}
	}
	return features
}

// combine gewichtet die Merkmale und schreibt sie der Reihe nach in das
// Embedding, bis Size Bytes gefüllt sind. Alles Weitere wird verworfen.
func combine(lbp, intensity, edges []uint8) Embedding {
	out := make(Embedding, Size)
	pos := 0

	groups := []struct {
		features []uint8
		weight   float32
	}{
		{lbp, lbpWeight},
		{intensity, intensityWeight},
		{edges, edgeWeight},
	}
	for _, g := range groups {
		for _, v := range g.features {
			if pos >= Size {
				return out
			}
			out[pos] = uint8(float32(v) * g.weight)
			pos++
		}
	}
	return out
}

// fallback verkleinert das Originalbild auf 16x16 und nutzt die ersten Size
// Luminanzwerte direkt. Bei leeren Bildern bleibt das Embedding null.
func fallback(img image.Image) (out Embedding) {
	out = make(Embedding, Size)
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Fallback embedding failed: %v", r)
			out = make(Embedding, Size)
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return out
	}

	small := image.NewRGBA(image.Rect(0, 0, fallbackSize, fallbackSize))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)
	p, err := toPlane(small)
	if err != nil {
		return out
	}
	copy(out, p.pix)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
