package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediasync/internal/model"
	"mediasync/internal/testutil"
)

func putObject(t *testing.T, h http.Handler, token, key, body string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/files/"+key, token, []byte(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload %s: expected 200, got %d: %s", key, rec.Code, rec.Body.String())
	}
}

func TestFileUploadDownload(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	token := register(t, h, "owner-1", testDeviceID)

	putObject(t, h, token, "assets/abc123.png", "png bytes")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/files/assets/abc123.png", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "png bytes" {
		t.Errorf("download body = %q, want %q", rec.Body.String(), "png bytes")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/files/assets/missing.png", token, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing object: expected 404, got %d", rec.Code)
	}
}

func TestFileDelete(t *testing.T) {
	srv, _, objects := newTestServer(t)
	h := srv.Router()
	token := register(t, h, "owner-1", testDeviceID)

	putObject(t, h, token, "assets/doomed.png", "bytes")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodDelete, "/files/assets/doomed.png", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	exists, err := objects.Exists(context.Background(), "assets/doomed.png")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Error("object still present after delete")
	}

	// Deleting again still succeeds.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodDelete, "/files/assets/doomed.png", token, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("repeat delete: expected 200, got %d", rec.Code)
	}
}

func TestCheckBatch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	token := register(t, h, "owner-1", testDeviceID)

	putObject(t, h, token, "assets/present.png", "bytes")

	body := testutil.MustMarshal(map[string]any{
		"keys": []string{"assets/present.png", "assets/absent.png"},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/files/check-batch", token, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("check-batch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results map[string]bool `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Results["assets/present.png"] {
		t.Error("present key reported missing")
	}
	if resp.Results["assets/absent.png"] {
		t.Error("absent key reported present")
	}

	t.Run("empty keys rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authedRequest(http.MethodPost, "/files/check-batch", token,
			[]byte(`{"keys":[]}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("oversized batch rejected", func(t *testing.T) {
		keys := make([]string, 1001)
		for i := range keys {
			keys[i] = "k"
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authedRequest(http.MethodPost, "/files/check-batch", token,
			testutil.MustMarshal(map[string]any{"keys": keys})))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestGetOrphans(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.Router()
	token := register(t, h, "owner-1", testDeviceID)

	referenced := contentHash("kept")
	st.SetAsset(&model.Asset{
		ID:        referenced,
		Name:      "kept.png",
		ObjectKey: "assets/" + referenced + ".png",
		UpdatedAt: 1000,
	})

	putObject(t, h, token, "assets/"+referenced+".png", "kept")
	putObject(t, h, token, "assets/orphan-1.png", "orphan")
	putObject(t, h, token, "assets/orphan-2.png", "orphans")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/files/orphans", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("orphans: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Orphans    []string `json:"orphans"`
		TotalBytes int64    `json:"total_bytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orphans) != 2 {
		t.Fatalf("got %d orphans, want 2: %v", len(resp.Orphans), resp.Orphans)
	}
	for _, key := range resp.Orphans {
		if !strings.HasPrefix(key, "assets/orphan-") {
			t.Errorf("unexpected orphan key %q", key)
		}
	}
	if resp.TotalBytes != int64(len("orphan")+len("orphans")) {
		t.Errorf("TotalBytes = %d, want %d", resp.TotalBytes, len("orphan")+len("orphans"))
	}
}

func TestFileRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/orphans", bytes.NewReader(nil)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
