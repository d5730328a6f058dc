// Package session steuert die Analyse eines Kamerastroms: Sie lässt höchstens
// einen Frame gleichzeitig und höchstens einen pro Abklingzeit zur Erkennung zu
// und meldet für jeden angenommenen Frame einen Erkennungszustand.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/matcher"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrDetection kennzeichnet Fehler des Gesichtsdetektors
	ErrDetection = errors.New("face detection failed")
	// ErrConversion kennzeichnet Frames, die nicht in ein Bild umgewandelt werden konnten
	ErrConversion = errors.New("frame conversion failed")
)

// Frame ist ein Kamerabild, das der Sitzung übergeben wird. Die Sitzung
// schließt jeden übergebenen Frame genau einmal.
type Frame interface {
	Bounds() image.Rectangle
	// Rotation in Grad, die der Detektor berücksichtigen soll
	Rotation() int
	Image() (image.Image, error)
	Close() error
}

// Detection ist ein vom Detektor gefundenes Gesicht
type Detection struct {
	Box        image.Rectangle
	Confidence float64
}

// Detector findet Gesichter in einem Frame
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}

// Recognizer ordnet einem Gesichtsausschnitt ein gespeichertes Gesicht zu
type Recognizer interface {
	Recognize(ctx context.Context, face image.Image) (matcher.Recognition, error)
}

// Config enthält die Grenzwerte einer Sitzung
type Config struct {
	Cooldown               time.Duration
	MinFaceRatio           float64
	MaxFaceRatio           float64
	MaxConsecutiveFailures int
}

// DefaultConfig liefert die Standardwerte
func DefaultConfig() Config {
	return Config{
		Cooldown:               time.Second,
		MinFaceRatio:           0.1,
		MaxFaceRatio:           0.8,
		MaxConsecutiveFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.MinFaceRatio <= 0 && c.MaxFaceRatio <= 0 {
		c.MinFaceRatio, c.MaxFaceRatio = def.MinFaceRatio, def.MaxFaceRatio
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	return c
}

// Snapshot ist eine Momentaufnahme des Sitzungszustands
type Snapshot struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Busy       bool      `json:"busy"`
	Failures   int       `json:"failures"`
	LastAction time.Time `json:"last_action"`
	Accepted   uint64    `json:"accepted"`
	Dropped    uint64    `json:"dropped"`
	Running    bool      `json:"running"`
}

// Option konfiguriert eine Sitzung
type Option func(*Session)

// WithListener setzt den Empfänger der Ergebnisse
func WithListener(l Listener) Option {
	return func(s *Session) {
		s.listener = l
	}
}

// WithClock ersetzt die Uhr (für Tests)
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithID setzt eine feste Sitzungs-ID statt einer zufälligen UUID
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

type job struct {
	seq   uint64
	frame Frame
}

// outcome ist das Ergebnis der Analyse eines Frames vor Anwendung der Fehlergrenze
type outcome struct {
	recognized bool
	name       string
	score      float64
	region     *image.Rectangle
	reason     string
	err        error
}

// Session ist eine Analysesitzung für einen Kamerastrom
type Session struct {
	id         string
	cfg        Config
	detector   Detector
	recognizer Recognizer
	listener   Listener
	now        func() time.Time

	mu         sync.Mutex
	state      State
	lastAction time.Time
	busy       bool
	failures   int
	accepted   uint64
	dropped    uint64
	running    bool

	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New erstellt eine Sitzung im Zustand Idle. Start muss aufgerufen werden,
// bevor Frames angenommen werden.
func New(cfg Config, detector Detector, recognizer Recognizer, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg.withDefaults(),
		detector:   detector,
		recognizer: recognizer,
		now:        time.Now,
		state:      Idle,
		jobs:       make(chan job, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID gibt die Sitzungs-ID zurück
func (s *Session) ID() string {
	return s.id
}

// Start startet den Analyse-Worker
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.worker(ctx)

	log.Infof("Analysis session %s started (cooldown %v)", s.id, s.cfg.Cooldown)
}

// Stop beendet den Worker und wartet auf ihn. Ein noch nicht bearbeiteter
// Frame wird geschlossen.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	select {
	case j := <-s.jobs:
		closeFrame(j.frame)
	default:
	}

	s.mu.Lock()
	s.busy = false
	s.state = Idle
	s.failures = 0
	s.lastAction = time.Time{}
	s.mu.Unlock()

	log.Infof("Analysis session %s stopped", s.id)
}

// Submit bietet der Sitzung einen Frame an und blockiert nie. Der Frame wird
// angenommen, wenn die Abklingzeit seit der letzten Aktion vergangen ist und
// kein anderer Frame bearbeitet wird. Abgelehnte Frames werden sofort geschlossen.
func (s *Session) Submit(f Frame) bool {
	now := s.now()

	s.mu.Lock()
	if !s.running || s.busy || now.Sub(s.lastAction) < s.cfg.Cooldown {
		s.dropped++
		s.mu.Unlock()
		closeFrame(f)
		return false
	}

	s.busy = true
	s.state = Detecting
	s.accepted++
	// Der Kanal ist leer, solange busy gesetzt war
	s.jobs <- job{seq: s.accepted, frame: f}
	s.mu.Unlock()

	return true
}

// Snapshot gibt den aktuellen Zustand zurück
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		State:      s.state,
		Busy:       s.busy,
		Failures:   s.failures,
		LastAction: s.lastAction,
		Accepted:   s.accepted,
		Dropped:    s.dropped,
		Running:    s.running,
	}
}

func (s *Session) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.emit(Result{SessionID: s.id, Seq: j.seq, State: Detecting, At: s.now()})
			out := s.analyze(ctx, j.frame)
			s.emit(s.complete(j.seq, out))
		}
	}
}

// analyze führt Erkennung und Abgleich für einen Frame durch und schließt ihn
func (s *Session) analyze(ctx context.Context, f Frame) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = outcome{reason: ReasonInternalError, err: fmt.Errorf("frame analysis panicked: %v", p)}
		}
	}()
	defer closeFrame(f)

	detections, err := s.detector.Detect(ctx, f)
	if err != nil {
		return outcome{reason: ReasonDetectionError, err: fmt.Errorf("%w: %w", ErrDetection, err)}
	}
	if len(detections) == 0 {
		return outcome{reason: ReasonNoFace}
	}

	bounds := f.Bounds()
	box := detections[0].Box
	if !s.validSize(box, bounds) {
		return outcome{reason: ReasonInvalidSize}
	}
	region := ExpandRegion(box, bounds)

	img, err := f.Image()
	if err != nil {
		return outcome{region: &region, reason: ReasonConversionError, err: fmt.Errorf("%w: %w", ErrConversion, err)}
	}
	face, err := frame.Crop(img, region.Sub(bounds.Min).Add(img.Bounds().Min))
	if err != nil {
		return outcome{region: &region, reason: ReasonConversionError, err: fmt.Errorf("%w: %w", ErrConversion, err)}
	}

	rec, err := s.recognizer.Recognize(ctx, face)
	if err != nil {
		return outcome{region: &region, reason: ReasonRecognitionError, err: err}
	}
	if !rec.Matched {
		reason := ReasonUnknown
		if rec.GallerySize == 0 {
			reason = ReasonNoStoredFaces
		}
		return outcome{region: &region, reason: reason}
	}

	return outcome{
		recognized: true,
		name:       rec.Match.Record.Name,
		score:      rec.Match.Score,
		region:     &region,
	}
}

// complete gibt die Sitzung frei und wendet die Grenze für aufeinanderfolgende
// Fehlschläge an: Ist sie erreicht, wird der Zähler zurückgesetzt und Idle gemeldet.
func (s *Session) complete(seq uint64, out outcome) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.busy = false
	s.lastAction = now

	res := Result{
		SessionID: s.id,
		Seq:       seq,
		Reason:    out.reason,
		At:        now,
	}
	if out.region != nil {
		res.Region = BoxFrom(*out.region)
	}
	if out.err != nil {
		res.Error = out.err.Error()
	}

	switch {
	case out.recognized:
		s.failures = 0
		res.State = Recognized
		res.Name = out.name
		res.Score = out.score
	case s.failures >= s.cfg.MaxConsecutiveFailures:
		s.failures = 0
		res.State = Idle
	default:
		s.failures++
		res.State = Failed
	}
	s.state = res.State
	return res
}

func (s *Session) emit(r Result) {
	if s.listener != nil {
		deliver(s.listener, r)
	}
}

// validSize prüft, ob Breite und Höhe des Gesichts im erlaubten Verhältnis zum Frame stehen
func (s *Session) validSize(box, bounds image.Rectangle) bool {
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return false
	}
	wr := float64(box.Dx()) / float64(bounds.Dx())
	hr := float64(box.Dy()) / float64(bounds.Dy())
	return wr >= s.cfg.MinFaceRatio && wr <= s.cfg.MaxFaceRatio &&
		hr >= s.cfg.MinFaceRatio && hr <= s.cfg.MaxFaceRatio
}

// ExpandRegion vergrößert box um ein Viertel seiner Breite bzw. Höhe auf jeder Seite
func ExpandRegion(box, bounds image.Rectangle) image.Rectangle {
	dx, dy := box.Dx()/4, box.Dy()/4
	return image.Rect(box.Min.X-dx, box.Min.Y-dy, box.Max.X+dx, box.Max.Y+dy).Intersect(bounds)
}

func closeFrame(f Frame) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		log.Warnf("Failed to close frame: %v", err)
	}
}
