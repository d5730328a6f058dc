package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/processor"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image>",
	Short: "Enroll a single reference image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := copyReference(current.cfg.Server.ImageDir, args[1])
		if err != nil {
			return err
		}
		id, err := current.gallery.Insert(cmd.Context(), args[0], path)
		if err != nil {
			os.Remove(path)
			return err
		}
		fmt.Printf("Enrolled %s as face %d\n", strings.TrimSpace(args[0]), id)
		return nil
	},
}

var enrollWorkers int

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll all images below dir, one subdirectory per person",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requests, err := collectRequests(args[0])
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			fmt.Println("No images found.")
			return nil
		}
		return enrollAll(cmd.Context(), requests)
	},
}

func init() {
	enrollDirCmd.Flags().IntVarP(&enrollWorkers, "workers", "w", 0, "number of enrollment workers (default from config)")
	rootCmd.AddCommand(enrollCmd, enrollDirCmd)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// collectRequests liest <dir>/<name>/<bild> und sortiert nach Pfad
func collectRequests(dir string) ([]processor.Request, error) {
	var requests []processor.Request
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			log.Warnf("Skipping %s: not inside a person directory", path)
			return nil
		}
		requests = append(requests, processor.Request{Name: parts[0], ImagePath: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ImagePath < requests[j].ImagePath })
	return requests, nil
}

func enrollAll(ctx context.Context, requests []processor.Request) error {
	// Quelldateien in das Galerieverzeichnis kopieren
	staged := make([]processor.Request, 0, len(requests))
	for _, req := range requests {
		path, err := copyReference(current.cfg.Server.ImageDir, req.ImagePath)
		if err != nil {
			log.Warnf("Skipping %s: %v", req.ImagePath, err)
			continue
		}
		staged = append(staged, processor.Request{Name: req.Name, ImagePath: path})
	}

	workers := enrollWorkers
	if workers <= 0 {
		workers = current.cfg.Enrollment.Workers
	}
	pool := processor.NewWorkerPool(current.gallery, workers)
	defer pool.Shutdown()

	bar := progressbar.NewOptions(len(staged),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	results := pool.EnrollAll(ctx, staged, func(processor.EnrollResult) {
		bar.Add(1)
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			os.Remove(r.ImagePath)
			fmt.Printf("FAILED %s (%s): %v\n", r.Name, r.ImagePath, r.Err)
		}
	}
	fmt.Printf("Enrolled %d of %d images\n", len(results)-failed, len(requests))
	if failed > 0 {
		return fmt.Errorf("%d images could not be enrolled", failed)
	}
	return nil
}

// copyReference speichert das Quellbild als JPEG im Galerieverzeichnis
func copyReference(dir, src string) (string, error) {
	img, err := frame.LoadFile(src)
	if err != nil {
		return "", err
	}
	return frame.SaveReference(dir, img)
}
