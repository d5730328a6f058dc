package mqtt

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"facewatch-go/config"
	"facewatch-go/internal/core/session"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	img.SetGray(0, 0, color.Gray{Y: 200})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHandleFrame(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "facewatch/"}, 90)

	if c.HandleFrame("facewatch/door/frame", pngBytes(t, 4, 2)) {
		t.Fatal("frame accepted without sink")
	}

	var got session.Frame
	c.SetFrameSink(func(f session.Frame) bool {
		got = f
		return true
	})

	if !c.HandleFrame("facewatch/door/frame", pngBytes(t, 4, 2)) {
		t.Fatal("frame not accepted")
	}
	if got == nil {
		t.Fatal("sink not called")
	}
	if b := got.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Errorf("bounds = %v, want rotated 2x4", b)
	}
	if err := got.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	got = nil
	if c.HandleFrame("facewatch/door/frame", []byte("not an image")) {
		t.Error("invalid payload accepted")
	}
	if got != nil {
		t.Error("sink called for invalid payload")
	}
}

func TestTopics(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "facewatch/"}, 0)
	if got := c.AvailabilityTopic(); got != "facewatch/status" {
		t.Errorf("AvailabilityTopic = %q", got)
	}

	tests := map[string]string{
		"facewatch/door/frame":  "door",
		"facewatch/door/frame/": "door",
		"frame":                 "",
	}
	for topic, want := range tests {
		if got := SourceFromTopic(topic); got != want {
			t.Errorf("SourceFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"online", "online"},
		{[]byte("raw"), "raw"},
		{42, "42"},
		{true, "true"},
		{map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := encodePayload(tt.in)
		if err != nil {
			t.Fatalf("encodePayload(%v): %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("encodePayload(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := encodePayload(func() {}); err == nil {
		t.Error("expected error for unsupported payload")
	}
}
