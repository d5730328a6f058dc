package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var marker = color.RGBA{R: 255, A: 255}

// markedImage erzeugt ein schwarzes Bild mit rotem Pixel oben links
func markedImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, marker)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func isMarker(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 == 255 && g == 0 && b == 0
}

func TestNewEncoded(t *testing.T) {
	data := encodePNG(t, markedImage(4, 2))

	tests := []struct {
		name     string
		rotation int
		want     image.Rectangle
	}{
		{"upright", 0, image.Rect(0, 0, 4, 2)},
		{"quarter", 90, image.Rect(0, 0, 2, 4)},
		{"half", 180, image.Rect(0, 0, 4, 2)},
		{"three quarter", 270, image.Rect(0, 0, 2, 4)},
		{"negative", -90, image.Rect(0, 0, 2, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewEncoded(data, tt.rotation)
			if err != nil {
				t.Fatalf("NewEncoded: %v", err)
			}
			if f.Bounds() != tt.want {
				t.Errorf("Bounds() = %v, want %v", f.Bounds(), tt.want)
			}
			if f.Format() != "png" {
				t.Errorf("Format() = %q, want png", f.Format())
			}

			img, err := f.Image()
			if err != nil {
				t.Fatalf("Image: %v", err)
			}
			if img.Bounds() != tt.want {
				t.Errorf("Image().Bounds() = %v, want %v", img.Bounds(), tt.want)
			}
		})
	}
}

func TestNewEncodedInvalid(t *testing.T) {
	if _, err := NewEncoded([]byte("not an image"), 0); err == nil {
		t.Error("expected error for garbage data")
	}
	if _, err := NewEncoded(encodePNG(t, markedImage(2, 2)), 45); err == nil {
		t.Error("expected error for 45 degree rotation")
	}
}

func TestRotateMovesPixels(t *testing.T) {
	src := markedImage(4, 2)

	tests := []struct {
		degrees int
		at      image.Point
	}{
		{0, image.Pt(0, 0)},
		{90, image.Pt(1, 0)},
		{180, image.Pt(3, 1)},
		{270, image.Pt(0, 3)},
	}

	for _, tt := range tests {
		img, err := Rotate(src, tt.degrees)
		if err != nil {
			t.Fatalf("Rotate(%d): %v", tt.degrees, err)
		}
		if !isMarker(img.At(tt.at.X, tt.at.Y)) {
			t.Errorf("Rotate(%d): marker not at %v", tt.degrees, tt.at)
		}
	}
}

func TestEncodedClose(t *testing.T) {
	f, err := NewEncoded(encodePNG(t, markedImage(3, 3)), 0)
	if err != nil {
		t.Fatalf("NewEncoded: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !f.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := f.Image(); !errors.Is(err, ErrClosed) {
		t.Errorf("Image() after Close error = %v, want ErrClosed", err)
	}
}

func TestCrop(t *testing.T) {
	img := markedImage(10, 10)

	got, err := Crop(img, image.Rect(-5, -5, 4, 3))
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if want := image.Rect(0, 0, 4, 3); got.Bounds() != want {
		t.Errorf("Crop bounds = %v, want %v", got.Bounds(), want)
	}
	if !isMarker(got.At(0, 0)) {
		t.Error("crop lost the top-left pixel")
	}

	if _, err := Crop(img, image.Rect(20, 20, 30, 30)); err == nil {
		t.Error("expected error for region outside the image")
	}
}

func TestSaveAndLoadReference(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveReference(filepath.Join(dir, "faces"), markedImage(16, 12))
	if err != nil {
		t.Fatalf("SaveReference: %v", err)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "face_") || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("unexpected file name %q", name)
	}

	img, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if want := image.Rect(0, 0, 16, 12); img.Bounds() != want {
		t.Errorf("loaded bounds = %v, want %v", img.Bounds(), want)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReferenceFileName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	if got := ReferenceFileName(ts); got != "face_1700000000123.jpg" {
		t.Errorf("ReferenceFileName() = %q", got)
	}
}

func TestSaveReferenceUniqueNames(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 4, 4))

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		path, err := SaveReference(dir, img)
		if err != nil {
			t.Fatal(err)
		}
		if seen[path] {
			t.Fatalf("duplicate reference path %s", path)
		}
		seen[path] = true
	}
}
