package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHealthyWithNoChecksConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	HTTPHandler(nil, "")(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.OK {
		t.Errorf("status = %+v, want ok", st)
	}
}

func TestChatStorePresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	if err := os.WriteFile(path, []byte("sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	HTTPHandler(nil, path)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestChatStoreMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	HTTPHandler(nil, filepath.Join(t.TempDir(), "nope.db"))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.OK || st.ChatStore {
		t.Errorf("status = %+v, want chat store unavailable", st)
	}
}
