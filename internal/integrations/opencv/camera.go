package opencv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/core/session"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Sink nimmt Frames entgegen, z.B. Session.Submit
type Sink func(session.Frame) bool

// Camera liest fortlaufend Bilder von einer Kamera oder einem Stream
type Camera struct {
	cfg config.CameraConfig
}

// NewCamera erstellt eine Kamera aus der Konfiguration
func NewCamera(cfg config.CameraConfig) *Camera {
	return &Camera{cfg: cfg}
}

// Run liest Bilder, bis ctx beendet wird, und reicht jedes an sink weiter.
// Die Sitzung entscheidet selbst, welche Frames sie verwirft.
func (c *Camera) Run(ctx context.Context, sink Sink) error {
	capture, err := c.open()
	if err != nil {
		return err
	}
	defer capture.Close()

	if c.cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	}
	if c.cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}

	log.Infof("Camera %s opened", c.cfg.Device)

	var accepted, dropped uint64
	emptyReads := 0
	for {
		if ctx.Err() != nil {
			log.Infof("Camera %s stopped (accepted %d, dropped %d frames)", c.cfg.Device, accepted, dropped)
			return nil
		}

		mat := gocv.NewMat()
		if ok := capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			emptyReads++
			if emptyReads%50 == 1 {
				log.Warnf("Camera %s delivered no frame (%d times)", c.cfg.Device, emptyReads)
			}
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		emptyReads = 0

		frame, err := NewMatFrame(mat, c.cfg.Rotation)
		if err != nil {
			return err
		}
		if sink(frame) {
			accepted++
		} else {
			dropped++
		}
	}
}

func (c *Camera) open() (*gocv.VideoCapture, error) {
	var device interface{} = c.cfg.Device
	if idx, err := strconv.Atoi(c.cfg.Device); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", c.cfg.Device, err)
	}
	return capture, nil
}
