package homeassistant

import (
	"fmt"
	"strings"

	"facewatch-go/config"

	log "github.com/sirupsen/logrus"
)

const (
	// Discovery-Präfix für Home Assistant, falls nicht konfiguriert
	DefaultDiscoveryPrefix = "homeassistant"

	ComponentSensor = "sensor"

	NodeID = "facewatch"
)

// MessagePublisher veröffentlicht Nachrichten, z.B. der MQTT-Client
type MessagePublisher interface {
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
}

// SensorConfig ist die MQTT-Discovery-Konfiguration eines Sensors
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device beschreibt das Gerät in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	pub             MessagePublisher
	prefix          string
	discoveryPrefix string
	device          *Device
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(pub MessagePublisher, cfg config.MQTTConfig) *DiscoveryManager {
	discoveryPrefix := cfg.HomeAssistant.DiscoveryPrefix
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{
		pub:             pub,
		prefix:          strings.TrimSuffix(cfg.TopicPrefix, "/"),
		discoveryPrefix: discoveryPrefix,
		device: &Device{
			Identifiers:  []string{"facewatch_go"},
			Name:         "Facewatch",
			Manufacturer: "Facewatch Go",
			Model:        "Go Edition",
		},
	}
}

// RegisterSession veröffentlicht Sensoren für Zustand und erkannten Namen einer Sitzung
func (dm *DiscoveryManager) RegisterSession(sessionID string) error {
	id := Normalize(sessionID)
	stateTopic := StateTopic(dm.prefix, sessionID)

	sensors := map[string]SensorConfig{
		id + "_state": {
			Name:          fmt.Sprintf("Facewatch %s state", sessionID),
			ValueTemplate: "{{ value_json.state }}",
			Icon:          "mdi:face-recognition",
		},
		id + "_name": {
			Name:          fmt.Sprintf("Facewatch %s person", sessionID),
			ValueTemplate: "{{ value_json.name | default('') }}",
			Icon:          "mdi:account",
		},
	}

	for objectID, sensor := range sensors {
		sensor.StateTopic = stateTopic
		sensor.JSONAttributesTopic = stateTopic
		if err := dm.publish(objectID, sensor); err != nil {
			return err
		}
	}
	log.Infof("Registered Home Assistant sensors for session %s", sessionID)
	return nil
}

// RegisterIdentities veröffentlicht für jeden Namen der Galerie einen Sensor
func (dm *DiscoveryManager) RegisterIdentities(names []string) error {
	var failed int
	for _, name := range names {
		sensor := SensorConfig{
			Name:          fmt.Sprintf("Facewatch %s", name),
			StateTopic:    MatchTopic(dm.prefix, name),
			ValueTemplate: "{{ value_json.session }}",
			Icon:          "mdi:face-recognition",
		}
		sensor.JSONAttributesTopic = sensor.StateTopic
		if err := dm.publish(Normalize(name), sensor); err != nil {
			log.Errorf("Failed to register sensor for identity %s: %v", name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to register %d of %d identities", failed, len(names))
	}
	return nil
}

func (dm *DiscoveryManager) publish(objectID string, sensor SensorConfig) error {
	sensor.UniqueID = NodeID + "_" + objectID
	sensor.AvailabilityTopic = dm.prefix + "/status"
	sensor.PayloadAvailable = "online"
	sensor.PayloadNotAvailable = "offline"
	sensor.Device = dm.device

	topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.discoveryPrefix, ComponentSensor, NodeID, objectID)
	if err := dm.pub.PublishRetain(topic, sensor); err != nil {
		return fmt.Errorf("failed to publish discovery configuration: %w", err)
	}
	return nil
}

// Normalize macht einen Namen topic-tauglich (Kleinbuchstaben, Unterstriche)
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '+', '#':
			return '_'
		}
		return r
	}, name)
}

// StateTopic ist das Topic, auf dem der Zustand einer Sitzung liegt
func StateTopic(prefix, sessionID string) string {
	return fmt.Sprintf("%s/%s/state", prefix, Normalize(sessionID))
}

// MatchTopic ist das Topic für Treffer einer Person
func MatchTopic(prefix, name string) string {
	return fmt.Sprintf("%s/matches/%s", prefix, Normalize(name))
}
