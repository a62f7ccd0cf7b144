package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/metrics"
)

// ErrSourceMissing reports that the attachment source file does not exist;
// callers may proceed text-only.
var ErrSourceMissing = errors.New("storage: attachment source missing")

// Uploader is the slice of the storage client the relay needs.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Relay moves one local file to remote storage via a staged copy. The staged
// copy decouples the source file's lifetime from the upload and is removed on
// every exit path, success or failure.
type Relay struct {
	uploader   Uploader
	stagingDir string
	log        *logging.Logger
}

func NewRelay(uploader Uploader, stagingDir string) (*Relay, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Relay{
		uploader:   uploader,
		stagingDir: stagingDir,
		log:        logging.New("attachment-relay"),
	}, nil
}

// Relay stages localPath, uploads it under key, and returns the public URL.
func (r *Relay) Relay(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			metrics.AttachmentRelaysTotal.WithLabelValues("missing").Inc()
			return "", ErrSourceMissing
		}
		metrics.AttachmentRelaysTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("stat attachment: %w", err)
	}

	staged := filepath.Join(r.stagingDir, uuid.NewString()+"_"+filepath.Base(localPath))
	if err := copyFile(localPath, staged); err != nil {
		metrics.AttachmentRelaysTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			r.log.Plain().WithError(err).WithField("path", staged).Warn("failed to remove staged copy")
		}
	}()

	url, err := r.uploader.Upload(ctx, staged, key)
	if err != nil {
		metrics.AttachmentRelaysTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.AttachmentRelaysTotal.WithLabelValues("uploaded").Inc()
	return url, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// MediaFetcher adapts Client.Download to the delivery queue's fetch contract.
type MediaFetcher struct {
	client *Client
	dir    string
}

func NewMediaFetcher(client *Client, dir string) *MediaFetcher {
	return &MediaFetcher{client: client, dir: dir}
}

// Fetch downloads url into the scratch dir; cleanup removes the local copy.
func (f *MediaFetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	path, err := f.client.Download(ctx, url, f.dir)
	if err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}
