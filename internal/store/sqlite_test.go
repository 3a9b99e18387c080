package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestAutoMigrateIsRepeatable(t *testing.T) {
	sqlStore := newTestStore(t)
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := sqlStore.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestVectorRoundTripAndCosine(t *testing.T) {
	vector := []float32{0.5, -1, 2.25}
	decoded, err := decodeVector(encodeVector(vector))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range vector {
		if decoded[i] != vector[i] {
			t.Fatalf("value %d changed: %f", i, decoded[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated blob")
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("expected 1 for parallel vectors, got %f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected 0 for orthogonal vectors, got %f", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %f", got)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "rapport_test.sqlite")
	sqlStore, err := New(dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return sqlStore
}
