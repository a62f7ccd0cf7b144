package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientUpload(t *testing.T) {
	var gotPath, gotAuth, gotUpsert string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "img.png")
	if err := os.WriteFile(src, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := NewClient(srv.URL, "message-media", "service-key")
	url, err := client.Upload(context.Background(), src, "tenant-a/img.png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if gotPath != "/storage/v1/object/message-media/tenant-a/img.png" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotUpsert != "true" {
		t.Errorf("x-upsert = %q, want true", gotUpsert)
	}
	if string(gotBody) != "png-bytes" {
		t.Errorf("uploaded body = %q", gotBody)
	}
	want := srv.URL + "/storage/v1/object/public/message-media/tenant-a/img.png"
	if url != want {
		t.Errorf("public url = %q, want %q", url, want)
	}
}

func TestClientUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bucket not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "img.png")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := NewClient(srv.URL, "missing", "key")
	_, err := client.Upload(context.Background(), src, "k")
	if err == nil {
		t.Fatal("Upload should have failed")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q does not mention the status", err)
	}
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := NewClient(srv.URL, "b", "k")

	path, err := client.Download(context.Background(), srv.URL+"/media/img.png", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "media-bytes" {
		t.Errorf("downloaded = %q", data)
	}
	if !strings.HasSuffix(path, "_img.png") {
		t.Errorf("downloaded name %q does not keep the source basename", filepath.Base(path))
	}
}

func TestClientDownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	client := NewClient(srv.URL, "b", "k")

	if _, err := client.Download(context.Background(), srv.URL+"/gone.png", dir); err == nil {
		t.Fatal("Download of missing object should fail")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial files left behind: %v", entries)
	}
}

func TestMediaFetcherCleanup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	fetcher := NewMediaFetcher(NewClient(srv.URL, "b", "k"), dir)

	path, cleanup, err := fetcher.Fetch(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("fetched file missing: %v", err)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cleanup did not remove the fetched file")
	}
}
