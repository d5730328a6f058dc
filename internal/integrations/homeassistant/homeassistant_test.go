package homeassistant

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/core/session"
)

type message struct {
	topic   string
	payload interface{}
	retain  bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	fail     bool
}

func (f *fakePublisher) Publish(topic string, payload interface{}) error {
	return f.add(topic, payload, false)
}

func (f *fakePublisher) PublishRetain(topic string, payload interface{}) error {
	return f.add(topic, payload, true)
}

func (f *fakePublisher) add(topic string, payload interface{}, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("broker unavailable")
	}
	f.messages = append(f.messages, message{topic, payload, retain})
	return nil
}

func (f *fakePublisher) byTopic() map[string]message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]message, len(f.messages))
	for _, msg := range f.messages {
		m[msg.topic] = msg
	}
	return m
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		TopicPrefix: "facewatch/",
		HomeAssistant: config.HomeAssistantConfig{
			Enabled:        true,
			PublishResults: true,
		},
	}
}

func TestNormalizeAndTopics(t *testing.T) {
	tests := map[string]string{
		"Alice":         "alice",
		" Bob Builder ": "bob_builder",
		"a/b+c#":        "a_b_c_",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
	if got := StateTopic("facewatch", "Front Door"); got != "facewatch/front_door/state" {
		t.Errorf("StateTopic = %q", got)
	}
	if got := MatchTopic("facewatch", "Alice"); got != "facewatch/matches/alice" {
		t.Errorf("MatchTopic = %q", got)
	}
}

func TestRegisterSession(t *testing.T) {
	pub := &fakePublisher{}
	dm := NewDiscoveryManager(pub, testConfig())

	if err := dm.RegisterSession("door"); err != nil {
		t.Fatal(err)
	}

	msgs := pub.byTopic()
	msg, ok := msgs["homeassistant/sensor/facewatch/door_state/config"]
	if !ok {
		t.Fatalf("state sensor not published, got %v", msgs)
	}
	if !msg.retain {
		t.Error("discovery config must be retained")
	}
	data, err := json.Marshal(msg.payload)
	if err != nil {
		t.Fatal(err)
	}
	var sensor SensorConfig
	if err := json.Unmarshal(data, &sensor); err != nil {
		t.Fatal(err)
	}
	if sensor.StateTopic != "facewatch/door/state" || sensor.UniqueID != "facewatch_door_state" {
		t.Errorf("unexpected sensor: %+v", sensor)
	}
	if sensor.AvailabilityTopic != "facewatch/status" {
		t.Errorf("AvailabilityTopic = %q", sensor.AvailabilityTopic)
	}
	if _, ok := msgs["homeassistant/sensor/facewatch/door_name/config"]; !ok {
		t.Error("name sensor not published")
	}
}

func TestRegisterIdentities(t *testing.T) {
	pub := &fakePublisher{}
	cfg := testConfig()
	cfg.HomeAssistant.DiscoveryPrefix = "ha"
	dm := NewDiscoveryManager(pub, cfg)

	if err := dm.RegisterIdentities([]string{"Alice", "Bob"}); err != nil {
		t.Fatal(err)
	}
	msgs := pub.byTopic()
	for _, topic := range []string{"ha/sensor/facewatch/alice/config", "ha/sensor/facewatch/bob/config"} {
		if _, ok := msgs[topic]; !ok {
			t.Errorf("missing discovery topic %s", topic)
		}
	}

	pub.fail = true
	if err := dm.RegisterIdentities([]string{"Carol"}); err == nil {
		t.Error("expected error when broker fails")
	}
}

func TestPublisherOnResult(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPublisher(pub, testConfig())
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	p.OnResult(session.Result{SessionID: "door", Seq: 1, State: session.Detecting, At: at})
	p.OnResult(session.Result{SessionID: "door", Seq: 1, State: session.Recognized, Name: "Alice", Score: 0.9, At: at})
	p.OnResult(session.Result{SessionID: "door", Seq: 2, State: session.Recognized, Name: "Alice", Score: 0.8, At: at})

	msgs := pub.byTopic()
	state, ok := msgs["facewatch/door/state"]
	if !ok || !state.retain {
		t.Fatalf("state not published retained: %+v", state)
	}
	if sp := state.payload.(StatePayload); sp.Seq != 2 || sp.Name != "Alice" {
		t.Errorf("last state payload = %+v", sp)
	}

	match, ok := msgs["facewatch/matches/alice"]
	if !ok {
		t.Fatal("match not published")
	}
	if ev := match.payload.(MatchEvent); ev.Count != 2 || ev.Session != "door" {
		t.Errorf("match event = %+v", ev)
	}

	if n := p.ResetCounters(at.Add(10*time.Second), 30*time.Second); n != 0 {
		t.Errorf("reset %d counters too early", n)
	}
	if n := p.ResetCounters(at.Add(time.Minute), 30*time.Second); n != 1 {
		t.Errorf("reset %d counters, want 1", n)
	}
	if p.Count("Alice") != 0 {
		t.Error("counter not reset")
	}
}

func TestPublisherWithoutMatches(t *testing.T) {
	pub := &fakePublisher{}
	cfg := testConfig()
	cfg.HomeAssistant.PublishResults = false
	p := NewPublisher(pub, cfg)

	p.OnResult(session.Result{SessionID: "door", State: session.Recognized, Name: "Alice"})
	if _, ok := pub.byTopic()["facewatch/matches/alice"]; ok {
		t.Error("match published although disabled")
	}
	if len(pub.byTopic()) != 1 {
		t.Errorf("expected only the state message, got %d", len(pub.byTopic()))
	}
}
