package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrClosed wird zurückgegeben, wenn ein bereits geschlossener Frame gelesen wird
var ErrClosed = errors.New("frame already closed")

// Encoded ist ein Frame aus kodierten Bilddaten (z.B. per MQTT oder HTTP empfangen).
// Dekodiert wird erst bei Bedarf.
type Encoded struct {
	mu       sync.Mutex
	data     []byte
	format   string
	rotation int
	bounds   image.Rectangle
	closed   bool
}

// NewEncoded prüft den Bildkopf und erstellt einen Frame. rotation gibt an, um wie viele
// Grad das Bild im Uhrzeigersinn gedreht werden muss, damit es aufrecht steht.
func NewEncoded(data []byte, rotation int) (*Encoded, error) {
	rotation = normalizeRotation(rotation)
	if rotation%90 != 0 {
		return nil, fmt.Errorf("unsupported rotation: %d", rotation)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}

	bounds := image.Rect(0, 0, cfg.Width, cfg.Height)
	if rotation == 90 || rotation == 270 {
		bounds = image.Rect(0, 0, cfg.Height, cfg.Width)
	}

	return &Encoded{
		data:     data,
		format:   format,
		rotation: rotation,
		bounds:   bounds,
	}, nil
}

// Bounds gibt die Abmessungen des aufrechten Bildes zurück
func (f *Encoded) Bounds() image.Rectangle {
	return f.bounds
}

// Rotation gibt die beim Dekodieren angewendete Drehung zurück
func (f *Encoded) Rotation() int {
	return f.rotation
}

// Format gibt das erkannte Bildformat zurück (z.B. "jpeg")
func (f *Encoded) Format() string {
	return f.format
}

// Image dekodiert den Frame und dreht ihn aufrecht
func (f *Encoded) Image() (image.Image, error) {
	f.mu.Lock()
	data, closed := f.data, f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	img, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return Rotate(img, f.rotation)
}

// Close gibt die Bilddaten frei. Mehrfaches Schließen ist erlaubt.
func (f *Encoded) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.data = nil
	return nil
}

// Closed meldet, ob Close bereits aufgerufen wurde
func (f *Encoded) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
