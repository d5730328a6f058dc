package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Camera      CameraConfig      `mapstructure:"camera"`
	OpenCV      OpenCVConfig      `mapstructure:"opencv"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	API         APIConfig         `mapstructure:"api"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	I18n        I18nConfig        `mapstructure:"i18n"`
	Enrollment  EnrollmentConfig  `mapstructure:"enrollment"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	ImageDir string `mapstructure:"image_dir"` // Referenzbilder der Galerie
	Timezone string `mapstructure:"timezone"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // leer: nur stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"`
}

// RecognitionConfig enthält die Grenzwerte der Analysesitzungen
type RecognitionConfig struct {
	Threshold              float64       `mapstructure:"threshold"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	MinFaceRatio           float64       `mapstructure:"min_face_ratio"`
	MaxFaceRatio           float64       `mapstructure:"max_face_ratio"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

// CameraConfig enthält die Einstellungen der lokalen Kamera
type CameraConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Device   string `mapstructure:"device"` // Geräteindex ("0") oder Stream-URL
	Width    int    `mapstructure:"width"`
	Height   int    `mapstructure:"height"`
	Rotation int    `mapstructure:"rotation"`
}

// OpenCVConfig enthält Einstellungen für den Haar-Cascade-Detektor
type OpenCVConfig struct {
	CascadeFile   string  `mapstructure:"cascade_file"`
	ScaleFactor   float64 `mapstructure:"scale_factor"`
	MinNeighbors  int     `mapstructure:"min_neighbors"`
	MinSizeWidth  int     `mapstructure:"min_size_width"`
	MinSizeHeight int     `mapstructure:"min_size_height"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix"`
	FrameTopic    string              `mapstructure:"frame_topic"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	PublishResults  bool   `mapstructure:"publish_results"`
}

// APIConfig enthält Einstellungen der HTTP-API
type APIConfig struct {
	FrameRateLimit float64 `mapstructure:"frame_rate_limit"` // Frames pro Sekunde und Client
	FrameBurst     int     `mapstructure:"frame_burst"`
	MaxUploadMB    int     `mapstructure:"max_upload_mb"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// I18nConfig enthält Spracheinstellungen der Oberfläche
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	SessionSecret   string `mapstructure:"session_secret"`
}

// EnrollmentConfig enthält Einstellungen für das Massen-Einlernen
type EnrollmentConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDerivedPaths(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.image_dir", "")
	v.SetDefault("server.timezone", "UTC")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)

	// DB
	v.SetDefault("db.file", "")

	// Erkennung
	v.SetDefault("recognition.threshold", 0.6)
	v.SetDefault("recognition.cooldown", time.Second)
	v.SetDefault("recognition.min_face_ratio", 0.1)
	v.SetDefault("recognition.max_face_ratio", 0.8)
	v.SetDefault("recognition.max_consecutive_failures", 3)

	// Kamera
	v.SetDefault("camera.enabled", false)
	v.SetDefault("camera.device", "0")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.rotation", 0)

	// OpenCV
	v.SetDefault("opencv.cascade_file", "/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml")
	v.SetDefault("opencv.scale_factor", 1.1)
	v.SetDefault("opencv.min_neighbors", 3)
	v.SetDefault("opencv.min_size_width", 60)
	v.SetDefault("opencv.min_size_height", 60)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facewatch-go")
	v.SetDefault("mqtt.topic_prefix", "facewatch")
	v.SetDefault("mqtt.frame_topic", "facewatch/+/frame")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.homeassistant.publish_results", true)

	// API
	v.SetDefault("api.frame_rate_limit", 5.0)
	v.SetDefault("api.frame_burst", 5)
	v.SetDefault("api.max_upload_mb", 10)

	// Cleanup
	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval_hours", 24)

	// Sprache
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.session_secret", "facewatch-secret")

	// Einlernen
	v.SetDefault("enrollment.workers", 4)
}

// applyDerivedPaths setzt Pfade, die vom Datenverzeichnis abhängen
func applyDerivedPaths(cfg *Config) {
	if cfg.Server.ImageDir == "" {
		cfg.Server.ImageDir = filepath.Join(cfg.Server.DataDir, "faces")
	}
	if cfg.DB.File == "" {
		cfg.DB.File = filepath.Join(cfg.Server.DataDir, "facewatch.db")
	}
}

// Validate prüft Werte, die nicht sinnvoll vorbelegt werden können
func (c *Config) Validate() error {
	r := c.Recognition
	if r.Threshold < 0 || r.Threshold >= 1 {
		return fmt.Errorf("recognition.threshold must be in [0, 1), got %v", r.Threshold)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("recognition.cooldown must not be negative, got %v", r.Cooldown)
	}
	if r.MinFaceRatio < 0 || r.MaxFaceRatio > 1 || r.MinFaceRatio > r.MaxFaceRatio {
		return fmt.Errorf("invalid face ratio band [%v, %v]", r.MinFaceRatio, r.MaxFaceRatio)
	}
	if r.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("recognition.max_consecutive_failures must be at least 1, got %d", r.MaxConsecutiveFailures)
	}
	if c.Camera.Rotation%90 != 0 {
		return fmt.Errorf("camera.rotation must be a multiple of 90, got %d", c.Camera.Rotation)
	}
	return nil
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	dirs := []string{cfg.Server.DataDir, cfg.Server.ImageDir, filepath.Dir(cfg.DB.File)}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Addr gibt die Adresse des HTTP-Servers zurück
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
