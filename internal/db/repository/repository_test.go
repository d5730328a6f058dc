package repository

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"facewatch-go/internal/core/embedding"
	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/models"
	"facewatch-go/internal/core/session"
	"facewatch-go/internal/db"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(conn) })
	return NewSQLiteRepository(conn)
}

func filled(v byte) embedding.Embedding {
	e := make(embedding.Embedding, embedding.Size)
	for i := range e {
		e[i] = v
	}
	return e
}

func TestFaceStore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	zoeID, err := repo.Write(ctx, "Zoe", "zoe.jpg", filled(3))
	if err != nil {
		t.Fatalf("Write(Zoe): %v", err)
	}
	adaID, err := repo.Write(ctx, "Ada", "ada.jpg", filled(7))
	if err != nil {
		t.Fatalf("Write(Ada): %v", err)
	}
	if zoeID == adaID {
		t.Fatal("ids are not unique")
	}

	records, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 || records[0].Name != "Ada" || records[1].Name != "Zoe" {
		t.Fatalf("ReadAll() = %+v, want Ada then Zoe", records)
	}
	want := gallery.FaceRecord{ID: adaID, Name: "Ada", ImagePath: "ada.jpg", Embedding: filled(7)}
	if !records[0].Equal(want) {
		t.Errorf("records[0] = %+v, want %+v", records[0], want)
	}

	one, err := repo.ReadOne(ctx, zoeID)
	if err != nil || one == nil {
		t.Fatalf("ReadOne(%d) = %v, %v", zoeID, one, err)
	}
	if !one.Embedding.Equal(filled(3)) {
		t.Error("embedding did not round-trip")
	}

	if err := repo.Delete(ctx, zoeID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	gone, err := repo.ReadOne(ctx, zoeID)
	if err != nil || gone != nil {
		t.Errorf("ReadOne(deleted) = %v, %v; want nil, nil", gone, err)
	}

	paths, err := repo.GetImagePaths(ctx)
	if err != nil {
		t.Fatalf("GetImagePaths: %v", err)
	}
	if _, ok := paths["ada.jpg"]; !ok || len(paths) != 1 {
		t.Errorf("GetImagePaths() = %v", paths)
	}
}

func TestWriteRejectsInvalidEmbedding(t *testing.T) {
	repo := newTestRepository(t)
	if _, err := repo.Write(context.Background(), "Bad", "bad.jpg", embedding.Embedding{1, 2, 3}); err == nil {
		t.Error("Write accepted a 3 byte embedding")
	}
}

func TestDeleteAssociatedImage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "face.jpg")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := repo.DeleteAssociatedImage(ctx, path); err != nil {
		t.Fatalf("DeleteAssociatedImage: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("image still exists")
	}
	if err := repo.DeleteAssociatedImage(ctx, path); err != nil {
		t.Errorf("deleting a missing image = %v, want nil", err)
	}

	// Ein nicht leeres Verzeichnis lässt sich nicht löschen
	blocked := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "child"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := repo.DeleteAssociatedImage(ctx, blocked); err == nil {
		t.Fatal("expected an error for a non-empty directory")
	}
	ops, err := repo.GetPendingOperations(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].ResourceName != blocked || ops[0].OperationType != models.POTypeDeleteImage {
		t.Errorf("pending operations = %+v", ops)
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	recorder := NewEventRecorder(repo)
	results := []session.Result{
		{SessionID: "cam", Seq: 1, State: session.Detecting, At: base},
		{SessionID: "cam", Seq: 1, State: session.Failed, Reason: session.ReasonNoFace, At: base.Add(time.Second)},
		{SessionID: "cam", Seq: 2, State: session.Recognized, Name: "Ada", Score: 0.8,
			Region: session.BoxFrom(image.Rect(1, 2, 30, 40)), At: base.Add(48 * time.Hour)},
	}
	for _, r := range results {
		recorder.OnResult(r)
	}

	events, total, err := repo.GetEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("GetEvents() = %d events (total %d), want 2", len(events), total)
	}
	if events[0].State != "recognized" || events[0].Name != "Ada" {
		t.Errorf("newest event = %+v", events[0])
	}
	var box session.Box
	if err := json.Unmarshal(events[0].Region, &box); err != nil {
		t.Fatalf("region JSON: %v", err)
	}
	if box.Rect() != image.Rect(1, 2, 30, 40) {
		t.Errorf("region = %+v", box)
	}

	stats, err := repo.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalEvents != 2 || stats.RecognizedEvents != 1 || stats.FailedEvents != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LatestEvent == nil || !stats.LatestEvent.Equal(base.Add(48*time.Hour)) {
		t.Errorf("latest event = %v", stats.LatestEvent)
	}

	deleted, err := repo.DeleteEventsBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteEventsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d events, want 1", deleted)
	}
}

func TestGalleryOverRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	g := gallery.New(repo)

	img := image.NewGray(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x*5 + y)})
		}
	}
	path, err := frame.SaveReference(t.TempDir(), img)
	if err != nil {
		t.Fatalf("SaveReference: %v", err)
	}

	id, err := g.Insert(ctx, "Ada", path)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	loaded, err := frame.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	g.Clear()
	got, ok, err := g.GetEmbedding(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetEmbedding = %v, %v", ok, err)
	}
	if !got.Equal(embedding.Extract(loaded)) {
		t.Error("stored embedding differs from extracting the reference image")
	}

	if err := g.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("reference image not deleted")
	}
}
