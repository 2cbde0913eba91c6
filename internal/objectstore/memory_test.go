package objectstore

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		content string
		wantErr bool
	}{
		{
			name:    "store and retrieve object",
			key:     "assets/abc.png",
			content: "hello world",
			wantErr: false,
		},
		{
			name:    "store empty object",
			key:     "assets/empty.png",
			content: "",
			wantErr: false,
		},
		{
			name:    "store large object",
			key:     "assets/large.png",
			content: strings.Repeat("x", 10000),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.content)
			err := store.Put(ctx, tt.key, r, int64(len(tt.content)))
			if (err != nil) != tt.wantErr {
				t.Errorf("Put() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				return
			}

			var buf bytes.Buffer
			err = store.Get(ctx, tt.key, &buf)
			if err != nil {
				t.Errorf("Get() unexpected error: %v", err)
				return
			}

			if got := buf.String(); got != tt.content {
				t.Errorf("Get() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryStore_PutSizeMismatch(t *testing.T) {
	store := NewMemoryStore()

	r := strings.NewReader("short")
	err := store.Put(context.Background(), "assets/a.png", r, 100)
	if err == nil {
		t.Error("Put() error = nil, want size mismatch error")
	}
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		r := strings.NewReader(content)
		if err := store.Put(ctx, "assets/a.png", r, int64(len(content))); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := store.Get(ctx, "assets/a.png", &buf); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if buf.String() != "second" {
		t.Errorf("Get() = %q, want %q", buf.String(), "second")
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	var buf bytes.Buffer
	err := store.Get(context.Background(), "assets/missing.png", &buf)
	if err == nil {
		t.Error("Get() error = nil, want not found error")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	content := "data"
	if err := store.Put(ctx, "assets/a.png", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if err := store.Delete(ctx, "assets/a.png"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, err := store.Exists(ctx, "assets/a.png")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists() = true after delete, want false")
	}

	// Deleting a missing key is not an error
	if err := store.Delete(ctx, "assets/never-existed.png"); err != nil {
		t.Errorf("Delete() on missing key error = %v, want nil", err)
	}
}

func TestMemoryStore_ExistsMany(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"assets/a.png", "assets/b.png"} {
		if err := store.Put(ctx, key, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	got, err := store.ExistsMany(ctx, []string{"assets/a.png", "assets/b.png", "assets/c.png"})
	if err != nil {
		t.Fatalf("ExistsMany() error: %v", err)
	}

	want := map[string]bool{
		"assets/a.png": true,
		"assets/b.png": true,
		"assets/c.png": false,
	}
	if len(got) != len(want) {
		t.Fatalf("ExistsMany() returned %d entries, want %d", len(got), len(want))
	}
	for key, exists := range want {
		if got[key] != exists {
			t.Errorf("ExistsMany()[%s] = %v, want %v", key, got[key], exists)
		}
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	contents := map[string]string{
		"assets/a.png": "aa",
		"assets/b.png": "bbbb",
	}
	for key, content := range contents {
		if err := store.Put(ctx, key, strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() returned %d objects, want 2", len(infos))
	}
	for _, info := range infos {
		content, ok := contents[info.Key]
		if !ok {
			t.Errorf("List() returned unexpected key %s", info.Key)
			continue
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Size for %s = %d, want %d", info.Key, info.Size, len(content))
		}
	}
}
