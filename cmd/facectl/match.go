package main

import (
	"fmt"

	"facewatch-go/internal/core/matcher"
	"facewatch-go/internal/core/processor"
	"facewatch-go/internal/core/session"
	"facewatch-go/internal/integrations/opencv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	matchDetect    bool
	matchMaxFaces  int
	matchThreshold float64
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Recognize the faces in an image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold := matchThreshold
		if threshold <= 0 {
			threshold = current.cfg.Recognition.Threshold
		}
		recognizer := matcher.NewRecognizer(current.gallery, threshold)

		var detector session.Detector
		if matchDetect {
			d, err := opencv.NewFaceDetector(current.cfg.OpenCV, nil)
			if err != nil {
				return err
			}
			defer d.Close()
			detector = d
		}

		result, err := processor.NewImageProcessor(detector, recognizer).ProcessFile(cmd.Context(), args[0],
			processor.ProcessingOptions{DetectFaces: matchDetect, MaxFaces: matchMaxFaces})
		if err != nil {
			return err
		}

		log.Debugf("Image %s has content hash %s", args[0], result.ContentHash)
		if result.GallerySize == 0 {
			fmt.Println("Gallery is empty.")
			return nil
		}
		if len(result.Faces) == 0 {
			fmt.Println("No face found.")
			return nil
		}
		for i, f := range result.Faces {
			name := "unknown"
			if f.Matched {
				name = f.Name
			}
			fmt.Printf("Face %d at %v: %s (score %.3f)\n", i+1, f.Region, name, f.Score)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().BoolVar(&matchDetect, "detect", true, "detect faces with OpenCV instead of using the whole image")
	matchCmd.Flags().IntVar(&matchMaxFaces, "max-faces", 0, "maximum number of faces to evaluate (0 = all)")
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", 0, "similarity threshold (default from config)")
	rootCmd.AddCommand(matchCmd)
}
