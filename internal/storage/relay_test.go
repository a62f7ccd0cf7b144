package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeUploader struct {
	err     error
	lastKey string
	seen    []byte
}

func (u *fakeUploader) Upload(_ context.Context, localPath, key string) (string, error) {
	u.lastKey = key
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	u.seen = data
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/" + key, nil
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRelaySuccess(t *testing.T) {
	staging := t.TempDir()
	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploader := &fakeUploader{}
	relay, err := NewRelay(uploader, staging)
	if err != nil {
		t.Fatal(err)
	}

	url, err := relay.Relay(context.Background(), src, "tenant-a/attachments/photo.jpg")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if url != "https://cdn.example.com/tenant-a/attachments/photo.jpg" {
		t.Errorf("url = %q", url)
	}
	if string(uploader.seen) != "jpeg-bytes" {
		t.Errorf("uploaded bytes = %q, want staged copy of the source", uploader.seen)
	}
	if files := stagedFiles(t, staging); len(files) != 0 {
		t.Errorf("staged files remain after success: %v", files)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source file was disturbed: %v", err)
	}
}

func TestRelayUploadFailureStillCleansUp(t *testing.T) {
	staging := t.TempDir()
	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploader := &fakeUploader{err: errors.New("storage unavailable")}
	relay, err := NewRelay(uploader, staging)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := relay.Relay(context.Background(), src, "k"); err == nil {
		t.Fatal("Relay should have failed")
	}
	if files := stagedFiles(t, staging); len(files) != 0 {
		t.Errorf("staged files remain after failure: %v", files)
	}
}

func TestRelaySourceMissing(t *testing.T) {
	staging := t.TempDir()
	relay, err := NewRelay(&fakeUploader{}, staging)
	if err != nil {
		t.Fatal(err)
	}

	_, err = relay.Relay(context.Background(), filepath.Join(staging, "nope.png"), "k")
	if !errors.Is(err, ErrSourceMissing) {
		t.Errorf("err = %v, want ErrSourceMissing", err)
	}
	if files := stagedFiles(t, staging); len(files) != 0 {
		t.Errorf("staged files remain: %v", files)
	}
}

func TestNewRelayCreatesStagingDir(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "nested", "staging")
	if _, err := NewRelay(&fakeUploader{}, staging); err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	if info, err := os.Stat(staging); err != nil || !info.IsDir() {
		t.Errorf("staging dir not created: %v", err)
	}
}
