package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/api/middleware"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/matcher"
	"facewatch-go/internal/core/processor"
	"facewatch-go/internal/core/session"
	"facewatch-go/internal/db"
	"facewatch-go/internal/db/repository"
	"facewatch-go/internal/integrations/homeassistant"
	"facewatch-go/internal/integrations/mqtt"
	"facewatch-go/internal/integrations/opencv"
	"facewatch-go/internal/logger"
	"facewatch-go/internal/server"
	"facewatch-go/internal/server/sse"
	"facewatch-go/internal/services/cleanup"
	"facewatch-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser := logger.Init(cfg.Log)
	defer logCloser.Close()

	timezone.Initialize(cfg.Server.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Facewatch stopped with error: %v", err)
	}
	log.Info("Facewatch stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info("Initializing database...")
	if err := db.Initialize(cfg); err != nil {
		return err
	}
	defer db.Close(db.DB)

	repo := repository.NewSQLiteRepository(db.DB)
	faces := gallery.New(repo)
	recognizer := matcher.NewRecognizer(faces, cfg.Recognition.Threshold)

	pool := processor.NewWorkerPool(faces, cfg.Enrollment.Workers)
	defer pool.Shutdown()

	// Ohne Detektor laufen Galerie und Einzelbild-Erkennung weiter
	var detector session.Detector
	var cv *opencv.Service
	if svc, err := opencv.NewService(cfg.OpenCV); err != nil {
		log.Warnf("OpenCV detector unavailable: %v", err)
	} else {
		cv = svc
		detector = svc.Detector
		defer cv.Close()
	}

	hub := sse.NewHub()
	listeners := session.MultiListener{
		session.LogListener,
		repository.NewEventRecorder(repo),
		hub,
	}

	var mqttClient *mqtt.Client
	var publisher *homeassistant.Publisher
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT, cfg.Camera.Rotation)
		publisher = homeassistant.NewPublisher(mqttClient, cfg.MQTT)
		listeners = append(listeners, publisher)
	}

	sess := session.New(session.Config{
		Cooldown:               cfg.Recognition.Cooldown,
		MinFaceRatio:           cfg.Recognition.MinFaceRatio,
		MaxFaceRatio:           cfg.Recognition.MaxFaceRatio,
		MaxConsecutiveFailures: cfg.Recognition.MaxConsecutiveFailures,
	}, detectorOrNone(detector), recognizer, session.WithListener(listeners))
	sess.Start(ctx)
	defer sess.Stop()
	log.Infof("Analysis session %s started", sess.ID())

	translator, err := middleware.NewTranslator(cfg.I18n.DefaultLanguage)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Gallery:    faces,
		Enroller:   pool,
		Session:    sess,
		Processor:  processor.NewImageProcessor(detector, recognizer),
		Events:     repo,
		Hub:        hub,
		Pool:       pool,
		Translator: translator,
	}
	if cv != nil {
		deps.Debug = cv.Debug
	}
	router := server.NewRouter(cfg, deps)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.Addr(), router)
	})

	g.Go(func() error {
		cleanup.NewCleanupService(repo, cfg.Cleanup, cfg.Server.ImageDir).Start(gctx)
		return nil
	})

	if cfg.Camera.Enabled {
		if detector == nil {
			log.Warn("Camera enabled but no face detector available, camera not started")
		} else {
			camera := opencv.NewCamera(cfg.Camera)
			g.Go(func() error {
				// Ein Kamerafehler beendet nicht den Server
				if err := camera.Run(gctx, sess.Submit); err != nil {
					log.Errorf("Camera stopped: %v", err)
				}
				return nil
			})
		}
	}

	if mqttClient != nil {
		mqttClient.SetFrameSink(sess.Submit)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("MQTT unavailable, continuing without it: %v", err)
		} else {
			defer mqttClient.Stop()
			if cfg.MQTT.HomeAssistant.Enabled {
				registerHomeAssistant(gctx, cfg, mqttClient, faces, sess.ID())
				g.Go(func() error {
					publisher.RunResetTimer(gctx, 5*time.Second, 30*time.Second)
					return nil
				})
			}
		}
	}

	return g.Wait()
}

func registerHomeAssistant(ctx context.Context, cfg *config.Config, client *mqtt.Client, faces *gallery.Gallery, sessionID string) {
	dm := homeassistant.NewDiscoveryManager(client, cfg.MQTT)
	if err := dm.RegisterSession(sessionID); err != nil {
		log.Errorf("Home Assistant discovery failed: %v", err)
		return
	}

	records, err := faces.GetAll(ctx)
	if err != nil {
		log.Errorf("Failed to load faces for Home Assistant discovery: %v", err)
		return
	}
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	if err := dm.RegisterIdentities(names); err != nil {
		log.Errorf("Home Assistant identity discovery incomplete: %v", err)
	}
}

// noDetector meldet jeden Frame als Erkennungsfehler, wenn OpenCV fehlt
type noDetector struct{}

var errNoDetector = errors.New("no face detector configured")

func (noDetector) Detect(ctx context.Context, f session.Frame) ([]session.Detection, error) {
	return nil, errNoDetector
}

func detectorOrNone(d session.Detector) session.Detector {
	if d == nil {
		return noDetector{}
	}
	return d
}
