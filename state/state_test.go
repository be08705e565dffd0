package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStorageOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yml")
	storage := NewFileStorage(path)

	t.Run("Get from missing file", func(t *testing.T) {
		_, ok, err := storage.Get("mercure.session.cookie")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Error("Get() reported a value in an empty store")
		}
	})

	t.Run("Set and Get string value", func(t *testing.T) {
		if err := storage.Set("test.key", "test-value"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		got, ok, err := storage.Get("test.key")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok || got != "test-value" {
			t.Errorf("Get() = %q, %v, want test-value, true", got, ok)
		}
	})

	t.Run("SetMany keeps existing keys", func(t *testing.T) {
		err := storage.SetMany(map[string]string{"a": "1", "b": "2"})
		if err != nil {
			t.Fatalf("SetMany() error = %v", err)
		}
		if v, _, _ := storage.Get("test.key"); v != "test-value" {
			t.Errorf("SetMany() dropped an existing key, got %q", v)
		}
		if v, _, _ := storage.Get("b"); v != "2" {
			t.Errorf("Get(b) = %q, want 2", v)
		}
	})

	t.Run("Delete keys", func(t *testing.T) {
		if err := storage.Delete("a", "b", "missing"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok, _ := storage.Get("a"); ok {
			t.Error("Delete() left key a behind")
		}
	})

	t.Run("File is private", func(t *testing.T) {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("Corrupt file reports an error on read", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("- a\n- b\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, _, err := storage.Get("test.key"); err == nil {
			t.Error("Get() on a corrupt file should fail")
		}
		// Writes recover from corruption.
		if err := storage.Set("fresh", "yes"); err != nil {
			t.Fatalf("Set() after corruption error = %v", err)
		}
		if v, _, _ := storage.Get("fresh"); v != "yes" {
			t.Errorf("Get(fresh) = %q", v)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage()
	_ = m.SetMany(map[string]string{"x": "1", "y": "2"})
	_ = m.Delete("x")

	snap := m.Snapshot()
	if len(snap) != 1 || snap["y"] != "2" {
		t.Errorf("Snapshot() = %v", snap)
	}
}

func TestWatcherReportsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yml")
	storage := NewFileStorage(path)

	changed := make(chan struct{}, 4)
	w, err := NewWatcher(storage, time.Millisecond, nil, func() {
		changed <- struct{}{}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	other := NewFileStorage(path)
	if err := other.Set("mercure.session.cookie", "abc"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the write")
	}
}

func TestWatcherReportsLastWriteOfBurst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yml")
	storage := NewFileStorage(path)
	if err := storage.Set("mercure.session.cookie", "abc"); err != nil {
		t.Fatal(err)
	}

	seen := make(chan bool, 4)
	w, err := NewWatcher(storage, 300*time.Millisecond, nil, func() {
		_, ok, _ := NewFileStorage(path).Get("mercure.session.cookie")
		seen <- ok
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Rotate then clear from another process, inside one debounce window.
	other := NewFileStorage(path)
	if err := other.Set("mercure.session.cookie", "rotated"); err != nil {
		t.Fatal(err)
	}
	if err := other.Delete("mercure.session.cookie"); err != nil {
		t.Fatal(err)
	}

	select {
	case ok := <-seen:
		if ok {
			t.Error("callback ran before the clear was written")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the burst")
	}

	select {
	case <-seen:
		t.Error("burst reported more than once")
	case <-time.After(600 * time.Millisecond):
	}
}
