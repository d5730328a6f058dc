package opencv

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sort"
	"sync"

	"facewatch-go/config"
	"facewatch-go/internal/core/session"
	"facewatch-go/internal/integrations/opencv/debugview"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// FaceDetector findet Gesichter mit einem Haar-Cascade-Klassifikator.
// Der Klassifikator ist nicht threadsicher, Aufrufe werden serialisiert.
type FaceDetector struct {
	cfg        config.OpenCVConfig
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	debug      *debugview.Store
	closed     bool
}

// NewFaceDetector lädt die Cascade-Datei aus der Konfiguration. debug darf nil sein.
func NewFaceDetector(cfg config.OpenCVConfig, debug *debugview.Store) (*FaceDetector, error) {
	if _, err := os.Stat(cfg.CascadeFile); err != nil {
		return nil, fmt.Errorf("cascade file not found: %w", err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadeFile) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade file %s", cfg.CascadeFile)
	}

	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 3
	}

	log.Infof("OpenCV face detector initialized with %s", cfg.CascadeFile)
	return &FaceDetector{cfg: cfg, classifier: classifier, debug: debug}, nil
}

// Detect implementiert session.Detector. Die Treffer sind nach Fläche absteigend
// sortiert, damit das größte Gesicht zuerst kommt.
func (d *FaceDetector) Detect(ctx context.Context, f session.Frame) ([]session.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, owned, err := matFromFrame(f)
	if err != nil {
		return nil, err
	}
	if owned {
		defer mat.Close()
	}
	if mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if mat.Channels() == 1 {
		mat.CopyTo(&gray)
	} else {
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	}
	gocv.EqualizeHist(gray, &gray)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("detector closed")
	}
	rects := d.classifier.DetectMultiScaleWithParams(
		gray,
		d.cfg.ScaleFactor,
		d.cfg.MinNeighbors,
		0,
		image.Pt(d.cfg.MinSizeWidth, d.cfg.MinSizeHeight),
		image.Pt(0, 0),
	)
	d.mu.Unlock()

	detections := make([]session.Detection, 0, len(rects))
	for _, r := range rects {
		detections = append(detections, session.Detection{Box: r, Confidence: 1})
	}
	sortByArea(detections)

	log.Debugf("OpenCV found %d face(s)", len(detections))
	if d.debug != nil && len(detections) > 0 {
		d.annotate(mat, detections)
	}
	return detections, nil
}

// annotate zeichnet die Treffer ein und legt das Bild im Debug-Speicher ab
func (d *FaceDetector) annotate(mat gocv.Mat, detections []session.Detection) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic during detection visualization: %v", r)
		}
	}()

	vis := mat.Clone()
	defer vis.Close()

	red := color.RGBA{255, 0, 0, 0}
	for i, det := range detections {
		gocv.Rectangle(&vis, det.Box, red, 2)
		gocv.PutText(&vis, fmt.Sprintf("Face %d", i+1), image.Pt(det.Box.Min.X, det.Box.Min.Y-5),
			gocv.FontHersheyPlain, 1.2, color.RGBA{0, 255, 0, 0}, 2)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, vis)
	if err != nil {
		log.Errorf("Failed to encode debug image: %v", err)
		return
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	d.debug.Add(data, len(detections))
}

// Close gibt den Klassifikator frei
func (d *FaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.classifier.Close()
}

// matFromFrame nutzt die Mat eines MatFrame direkt, sonst wird das Bild konvertiert.
// owned gibt an, ob der Aufrufer die Mat schließen muss.
func matFromFrame(f session.Frame) (mat gocv.Mat, owned bool, err error) {
	if mf, ok := f.(*MatFrame); ok {
		m, err := mf.Mat()
		return m, false, err
	}

	img, err := f.Image()
	if err != nil {
		return gocv.Mat{}, false, fmt.Errorf("failed to convert frame: %w", err)
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, false, fmt.Errorf("failed to convert frame: %w", err)
	}
	return m, true, nil
}

func sortByArea(detections []session.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		a, b := detections[i].Box, detections[j].Box
		return a.Dx()*a.Dy() > b.Dx()*b.Dy()
	})
}
