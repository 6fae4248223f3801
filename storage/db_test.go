package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, key := range []string{"j/0003", "j/0001", "x/0001", "j/0002"} {
		if err := db.Put([]byte(key), []byte(key)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	var seen []string
	if err := db.Iterate([]byte("j/"), func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"j/0001", "j/0002", "j/0003"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected keys %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("key %d: got %s want %s", i, seen[i], want[i])
		}
	}
	ok, err := db.Has([]byte("x/0001"))
	if err != nil || !ok {
		t.Fatalf("has: ok=%v err=%v", ok, err)
	}
	if err := db.Delete([]byte("x/0001")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := db.Has([]byte("x/0001")); ok {
		t.Fatalf("key still present after delete")
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
