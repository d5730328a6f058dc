package opencv

import (
	"fmt"
	"image"
	"sync"

	gocv "gocv.io/x/gocv"
)

// MatFrame ist ein Kamerabild als OpenCV-Mat. Die Mat wird beim Erzeugen
// aufrecht gedreht; Close gibt sie genau einmal frei.
type MatFrame struct {
	mu       sync.Mutex
	mat      gocv.Mat
	rotation int
	closed   bool
}

// NewMatFrame übernimmt mat und dreht sie um rotation Grad im Uhrzeigersinn
func NewMatFrame(mat gocv.Mat, rotation int) (*MatFrame, error) {
	rotation = ((rotation % 360) + 360) % 360

	var flag gocv.RotateFlag
	switch rotation {
	case 0:
		return &MatFrame{mat: mat}, nil
	case 90:
		flag = gocv.Rotate90Clockwise
	case 180:
		flag = gocv.Rotate180Clockwise
	case 270:
		flag = gocv.Rotate90CounterClockwise
	default:
		mat.Close()
		return nil, fmt.Errorf("unsupported rotation: %d", rotation)
	}

	rotated := gocv.NewMat()
	gocv.Rotate(mat, &rotated, flag)
	mat.Close()
	return &MatFrame{mat: rotated, rotation: rotation}, nil
}

// Bounds gibt die Abmessungen des aufrechten Bildes zurück
func (f *MatFrame) Bounds() image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

// Rotation gibt die beim Erzeugen angewendete Drehung zurück
func (f *MatFrame) Rotation() int {
	return f.rotation
}

// Mat gibt die zugrunde liegende Mat zurück. Sie bleibt Eigentum des Frames.
func (f *MatFrame) Mat() (gocv.Mat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return gocv.Mat{}, fmt.Errorf("frame already closed")
	}
	return f.mat, nil
}

// Image kopiert die Mat in ein image.Image
func (f *MatFrame) Image() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("frame already closed")
	}
	return f.mat.ToImage()
}

// Close gibt die Mat frei
func (f *MatFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.mat.Close()
}
