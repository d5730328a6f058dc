// Package frame stellt Kamerabilder für die Analyse bereit und enthält
// Hilfsfunktionen zum Laden, Zuschneiden und Speichern von Bildern.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	// Decoder registrieren
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ReferenceQuality ist die JPEG-Qualität für gespeicherte Referenzbilder
const ReferenceQuality = 90

// LoadFile lädt und dekodiert ein Bild (JPEG, PNG, GIF, BMP, WebP)
func LoadFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Decode dekodiert ein Bild aus Bytes und gibt zusätzlich das Format zurück
func Decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

// Crop schneidet den Bereich r aus img aus. Liegt r teilweise außerhalb,
// wird auf die Bildgrenzen beschnitten.
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop region %v outside image bounds %v", r, img.Bounds())
	}

	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst, nil
}

// Rotate dreht ein Bild im Uhrzeigersinn um 0, 90, 180 oder 270 Grad
func Rotate(img image.Image, degrees int) (image.Image, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	minX, minY := float64(b.Min.X), float64(b.Min.Y)

	var m f64.Aff3
	var dst *image.RGBA
	switch normalizeRotation(degrees) {
	case 0:
		return img, nil
	case 90:
		m = f64.Aff3{0, -1, h + minY, 1, 0, -minX}
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	case 180:
		m = f64.Aff3{-1, 0, w + minX, 0, -1, h + minY}
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	case 270:
		m = f64.Aff3{0, 1, -minY, -1, 0, w + minX}
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	default:
		return nil, fmt.Errorf("unsupported rotation: %d", degrees)
	}

	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst, nil
}

// normalizeRotation bildet Winkel auf [0, 360) ab
func normalizeRotation(degrees int) int {
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// ReferenceFileName liefert den Dateinamen für ein neues Referenzbild
func ReferenceFileName(t time.Time) string {
	return fmt.Sprintf("face_%d.jpg", t.UnixMilli())
}

// SaveReference speichert ein Referenzbild als JPEG im Verzeichnis dir
// und gibt den vollständigen Pfad zurück.
func SaveReference(dir string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	// Bei gleichem Zeitstempel auf die nächste freie Millisekunde ausweichen
	var (
		path string
		f    *os.File
		err  error
	)
	t := time.Now()
	for attempt := 0; attempt < 1000; attempt++ {
		path = filepath.Join(dir, ReferenceFileName(t))
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
		t = t.Add(time.Millisecond)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create reference image: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: ReferenceQuality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode reference image: %w", err)
	}
	return path, nil
}
