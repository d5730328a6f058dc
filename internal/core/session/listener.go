package session

import log "github.com/sirupsen/logrus"

// Listener empfängt die Ergebnisse einer Sitzung. Aufrufe erfolgen nacheinander
// aus dem Analyse-Worker; lange Arbeit sollte ausgelagert werden.
type Listener interface {
	OnResult(Result)
}

// ListenerFunc erlaubt gewöhnliche Funktionen als Listener
type ListenerFunc func(Result)

func (f ListenerFunc) OnResult(r Result) {
	f(r)
}

// MultiListener verteilt Ergebnisse an mehrere Listener
type MultiListener []Listener

func (m MultiListener) OnResult(r Result) {
	for _, l := range m {
		if l == nil {
			continue
		}
		deliver(l, r)
	}
}

// deliver schützt den Worker vor Panics einzelner Listener
func deliver(l Listener, r Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Session listener panicked: %v", p)
		}
	}()
	l.OnResult(r)
}

// LogListener schreibt jedes Endergebnis ins Log
var LogListener = ListenerFunc(func(r Result) {
	fields := log.Fields{
		"session": r.SessionID,
		"seq":     r.Seq,
		"state":   r.State.String(),
	}
	switch r.State {
	case Detecting:
		log.WithFields(fields).Debug("Frame accepted")
	case Recognized:
		fields["name"] = r.Name
		fields["score"] = r.Score
		log.WithFields(fields).Info("Face recognized")
	default:
		fields["reason"] = r.Reason
		if r.Error != "" {
			fields["error"] = r.Error
		}
		log.WithFields(fields).Debug("Frame not recognized")
	}
})
