package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, ok, err := db.GetState(ctx, "reader"); ok || err != nil {
		t.Fatalf("Expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := db.PutState(ctx, "reader", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.PutState(ctx, "reader", []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.GetState(ctx, "reader")
	if err != nil || !ok || string(got) != `{"a":2}` {
		t.Errorf("Expected overwritten value, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestPositionOverwrite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := Position{BookID: "b1", ChapterID: "c1", BlockID: "p1", BlockPosition: 10, Lang: "fr",
		UpdatedAt: time.UnixMilli(1_700_000_000_000)}
	if err := db.PutPosition(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := Position{BookID: "b1", ChapterID: "c2", BlockID: "p9", BlockPosition: 90,
		UpdatedAt: time.UnixMilli(1_600_000_000_000)}
	if err := db.PutPosition(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.GetPosition(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("Expected stored position, ok=%v err=%v", ok, err)
	}
	// Last write wins even when its timestamp is older.
	if got.ChapterID != "c2" || got.BlockID != "p9" || got.BlockPosition != 90 || got.Lang != "" {
		t.Errorf("Unexpected position %+v", got)
	}
	if !got.UpdatedAt.Equal(second.UpdatedAt) {
		t.Errorf("Expected timestamp %v, got %v", second.UpdatedAt, got.UpdatedAt)
	}

	if _, ok, _ := db.GetPosition(ctx, "other"); ok {
		t.Error("Expected no position for unknown book")
	}
}

func TestTranslationCache(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.PutTranslation(ctx, "c1", "p1", "fr", "h1", "Bonjour"); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name     string
		lang     string
		hash     string
		wantOK   bool
		wantText string
	}{
		{name: "Hit", lang: "fr", hash: "h1", wantOK: true, wantText: "Bonjour"},
		{name: "Changed source", lang: "fr", hash: "h2"},
		{name: "Other language", lang: "de", hash: "h1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			text, ok, err := db.GetTranslation(ctx, "c1", "p1", tc.lang, tc.hash)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tc.wantOK || text != tc.wantText {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tc.wantText, tc.wantOK, text, ok)
			}
		})
	}

	n, err := db.CountTranslations(ctx, "c1", "fr")
	if err != nil || n != 1 {
		t.Errorf("Expected 1 cached translation, got %d (%v)", n, err)
	}
}

func TestBookLanguageAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "reader.db")

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.PutBookLanguage(ctx, "b1", "de"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	lang, ok, err := db.GetBookLanguage(ctx, "b1")
	if err != nil || !ok || lang != "de" {
		t.Errorf("Expected persisted language de, got %q ok=%v err=%v", lang, ok, err)
	}
}
