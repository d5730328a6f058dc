package session

import (
	"fmt"
	"image"
	"time"
)

// State ist der Erkennungszustand einer Sitzung
type State int

const (
	Idle State = iota
	Detecting
	Recognized
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Recognized:
		return "recognized"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText schreibt den Zustand als Text (z.B. in JSON und MQTT)
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText liest einen Zustand aus seinem Textnamen
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState wandelt einen Textnamen in einen State um
func ParseState(name string) (State, error) {
	for _, st := range []State{Idle, Detecting, Recognized, Failed} {
		if st.String() == name {
			return st, nil
		}
	}
	return Idle, fmt.Errorf("unknown state %q", name)
}

// Gründe für nicht erfolgreiche Frames
const (
	ReasonNoFace           = "no face"
	ReasonInvalidSize      = "invalid face size"
	ReasonUnknown          = "unknown"
	ReasonNoStoredFaces    = "no stored faces"
	ReasonDetectionError   = "detection failed"
	ReasonConversionError  = "conversion failed"
	ReasonRecognitionError = "recognition failed"
	ReasonInternalError    = "internal error"
)

// Box ist ein Bildbereich mit JSON-Feldnamen wie in der Datenbank
type Box struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// BoxFrom wandelt ein Rechteck in eine Box um
func BoxFrom(r image.Rectangle) *Box {
	return &Box{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y}
}

// Rect gibt die Box als image.Rectangle zurück
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Result wird für jeden angenommenen Frame zweimal gemeldet: einmal mit
// Detecting beim Start der Analyse und einmal mit dem Endzustand.
type Result struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	State     State     `json:"state"`
	Name      string    `json:"name,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Region    *Box      `json:"region,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Final meldet, ob das Ergebnis den Abschluss eines Frames beschreibt
func (r Result) Final() bool {
	return r.State != Detecting
}
