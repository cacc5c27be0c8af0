package storage

import (
	"errors"
	"testing"
)

func TestMemDBGetMissingKey(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %s", got)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("expected key to exist, ok=%v err=%v", ok, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemDBIterateOrdersKeys(t *testing.T) {
	db := NewMemDB()
	entries := map[string]string{
		"lend/pos/b": "2",
		"lend/pos/a": "1",
		"lend/pos/c": "3",
		"other/x":    "ignored",
	}
	for k, v := range entries {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	var visited []string
	err := db.Iterate([]byte("lend/pos/"), func(key, value []byte) error {
		visited = append(visited, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"lend/pos/a=1", "lend/pos/b=2", "lend/pos/c=3"}
	if len(visited) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(visited), visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], visited[i])
		}
	}
}

func TestMemDBIterateStopsOnError(t *testing.T) {
	db := NewMemDB()
	for _, k := range []string{"p/a", "p/b", "p/c"} {
		if err := db.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	errStop := errors.New("stop")
	count := 0
	err := db.Iterate([]byte("p/"), func(key, value []byte) error {
		count++
		if count == 2 {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if count != 2 {
		t.Fatalf("expected walk to stop after 2 entries, visited %d", count)
	}
}
