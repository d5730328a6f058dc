package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/session"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// FrameSink nimmt empfangene Frames entgegen, z.B. Session.Submit
type FrameSink func(session.Frame) bool

// Client ist der MQTT-Client. Er empfängt kodierte Frames und veröffentlicht Ergebnisse.
type Client struct {
	config   config.MQTTConfig
	rotation int
	client   mqtt.Client

	mu   sync.RWMutex
	sink FrameSink
}

// NewClient erstellt einen neuen MQTT-Client. rotation gilt für alle empfangenen Frames.
func NewClient(cfg config.MQTTConfig, rotation int) *Client {
	return &Client{
		config:   cfg,
		rotation: rotation,
	}
}

// SetFrameSink legt fest, wohin empfangene Frames gehen
func (c *Client) SetFrameSink(sink FrameSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Letzter Wille: Verfügbarkeit auf offline
	opts.SetWill(c.AvailabilityTopic(), "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet den Dienst offline und trennt die Verbindung
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		if err := c.PublishRetain(c.AvailabilityTopic(), "offline"); err != nil {
			log.Warnf("Failed to publish offline status: %v", err)
		}
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Prefix gibt das Topic-Präfix zurück
func (c *Client) Prefix() string {
	return strings.TrimSuffix(c.config.TopicPrefix, "/")
}

// AvailabilityTopic ist das Topic für den Online-Status
func (c *Client) AvailabilityTopic() string {
	return c.Prefix() + "/status"
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	if err := c.PublishRetain(c.AvailabilityTopic(), "online"); err != nil {
		log.Warnf("Failed to publish online status: %v", err)
	}

	if c.config.FrameTopic == "" {
		return
	}
	log.Infof("Subscribing to MQTT topic: %s", c.config.FrameTopic)
	if token := client.Subscribe(c.config.FrameTopic, 0, c.messageHandler); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", c.config.FrameTopic, token.Error())
	}
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	c.HandleFrame(msg.Topic(), msg.Payload())
}

// HandleFrame dekodiert eine Frame-Nachricht und reicht sie an den Sink weiter.
// Gibt zurück, ob die Sitzung den Frame angenommen hat.
func (c *Client) HandleFrame(topic string, payload []byte) bool {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()

	if sink == nil {
		log.Debugf("Ignoring frame on %s: no sink registered", topic)
		return false
	}

	f, err := frame.NewEncoded(payload, c.rotation)
	if err != nil {
		log.WithField("topic", topic).Warnf("Invalid frame payload: %v", err)
		return false
	}

	accepted := sink(f)
	log.WithFields(log.Fields{
		"topic":    topic,
		"source":   SourceFromTopic(topic),
		"accepted": accepted,
	}).Debug("Received MQTT frame")
	return accepted
}

// SourceFromTopic liefert das Segment vor "/frame", z.B. den Kameranamen
func SourceFromTopic(topic string) string {
	parts := strings.Split(strings.TrimSuffix(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}
