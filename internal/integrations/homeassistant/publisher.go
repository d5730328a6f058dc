package homeassistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/core/session"

	log "github.com/sirupsen/logrus"
)

// StatePayload wird auf dem Zustands-Topic einer Sitzung veröffentlicht
type StatePayload struct {
	Session   string        `json:"session"`
	Seq       uint64        `json:"seq"`
	State     session.State `json:"state"`
	Name      string        `json:"name,omitempty"`
	Score     float64       `json:"score,omitempty"`
	Box       *session.Box  `json:"box,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// MatchEvent wird pro erkannter Person veröffentlicht
type MatchEvent struct {
	Session   string       `json:"session"`
	Name      string       `json:"name"`
	Score     float64      `json:"score"`
	Box       *session.Box `json:"box,omitempty"`
	Count     int          `json:"count"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher veröffentlicht Sitzungsergebnisse via MQTT. Er ist ein session.Listener.
type Publisher struct {
	pub            MessagePublisher
	prefix         string
	publishMatches bool

	mu         sync.Mutex
	counters   map[string]int // Treffer pro Person seit dem letzten Zurücksetzen
	lastUpdate map[string]time.Time
}

// NewPublisher erstellt einen neuen Publisher
func NewPublisher(pub MessagePublisher, cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		pub:            pub,
		prefix:         strings.TrimSuffix(cfg.TopicPrefix, "/"),
		publishMatches: cfg.HomeAssistant.Enabled && cfg.HomeAssistant.PublishResults,
		counters:       make(map[string]int),
		lastUpdate:     make(map[string]time.Time),
	}
}

// OnResult veröffentlicht Endergebnisse; Zwischenzustände werden nur als Zustand gemeldet
func (p *Publisher) OnResult(r session.Result) {
	payload := StatePayload{
		Session:   r.SessionID,
		Seq:       r.Seq,
		State:     r.State,
		Name:      r.Name,
		Score:     r.Score,
		Box:       r.Region,
		Reason:    r.Reason,
		Timestamp: r.At,
	}
	if err := p.pub.PublishRetain(StateTopic(p.prefix, r.SessionID), payload); err != nil {
		log.Errorf("Failed to publish session state: %v", err)
	}

	if !p.publishMatches || r.State != session.Recognized {
		return
	}

	p.mu.Lock()
	p.counters[r.Name]++
	p.lastUpdate[r.Name] = r.At
	count := p.counters[r.Name]
	p.mu.Unlock()

	event := MatchEvent{
		Session:   r.SessionID,
		Name:      r.Name,
		Score:     r.Score,
		Box:       r.Region,
		Count:     count,
		Timestamp: r.At,
	}
	if err := p.pub.Publish(MatchTopic(p.prefix, r.Name), event); err != nil {
		log.Errorf("Failed to publish match for %s: %v", r.Name, err)
	}
}

// RunResetTimer setzt die Zähler regelmäßig zurück, bis ctx beendet wird
func (p *Publisher) RunResetTimer(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.ResetCounters(now, maxAge)
		}
	}
}

// ResetCounters setzt Zähler zurück, deren letzter Treffer älter als maxAge ist,
// und gibt die Anzahl zurückgesetzter Personen zurück
func (p *Publisher) ResetCounters(now time.Time, maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	reset := 0
	for name, last := range p.lastUpdate {
		if now.Sub(last) <= maxAge {
			continue
		}
		delete(p.counters, name)
		delete(p.lastUpdate, name)
		reset++
		log.Debugf("Reset match counter for %s", name)
	}
	return reset
}

// Count gibt den aktuellen Trefferzähler einer Person zurück
func (p *Publisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}
