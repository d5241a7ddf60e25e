package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"image-vault/internal/mediatypes"
	"image-vault/internal/metrics"
	"image-vault/internal/workers"
)

const (
	// Concurrency is the number of transfers a batch keeps in flight.
	Concurrency = 5
	// ProgressEvery is how many completed uploads separate progress events.
	ProgressEvery = 5
)

// UploadSummary is the outcome of one upload batch. Duplicates are counted
// in Failed as well.
type UploadSummary struct {
	Total      int
	Succeeded  int
	Failed     int
	Duplicates int
	Bytes      int64
}

// MB returns the bytes of successful uploads in mebibytes.
func (s UploadSummary) MB() float64 {
	return float64(s.Bytes) / 1024 / 1024
}

func (s UploadSummary) String() string {
	return fmt.Sprintf("Upload complete: %d succeeded, %d failed, %.2f MB", s.Succeeded, s.Failed, s.MB())
}

// BatchUploader uploads the files named by a job to one server folder.
type BatchUploader struct {
	client      *Client
	folder      string
	concurrency int
}

// NewBatchUploader returns an uploader targeting folder; an empty folder
// lets the server pick its default.
func NewBatchUploader(client *Client, folder string) *BatchUploader {
	return &BatchUploader{client: client, folder: folder, concurrency: Concurrency}
}

// uploadCounters belong to a single Run.
type uploadCounters struct {
	mu        sync.Mutex
	completed int
	summary   UploadSummary
}

// Run discovers the job's files and uploads them. It always ends with one
// OnComplete event carrying the summary. ctx bounds each request; items not
// yet started when ctx ends fail with its error.
func (u *BatchUploader) Run(ctx context.Context, specs []FolderSpec, obs Observer) UploadSummary {
	obs = observerOrNop(obs)

	items := Discover(specs, obs)
	if len(items) == 0 {
		obs.OnComplete(infof("No matching files found, nothing to upload"))
		return UploadSummary{}
	}

	c := &uploadCounters{summary: UploadSummary{Total: len(items)}}
	obs.OnProgress(infof("Uploading %d files", len(items)))

	workers.Run(items, u.concurrency, func(item Item) error {
		size, err := u.uploadOne(ctx, item)
		c.record(item, size, err, obs)
		return err
	})

	summary := c.summary
	sev := SeveritySuccess
	if summary.Failed > 0 {
		sev = SeverityError
		if summary.Succeeded > 0 {
			sev = SeverityInfo
		}
	}
	obs.OnComplete(Event{Message: summary.String(), Severity: sev})
	return summary
}

func (u *BatchUploader) uploadOne(ctx context.Context, item Item) (int64, error) {
	mime, ok := mediatypes.UploadMimeType(filepath.Ext(item.Path))
	if !ok {
		return 0, fmt.Errorf("%s: unsupported file type %q", item.DisplayName, filepath.Ext(item.Path))
	}

	content, err := os.ReadFile(item.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", item.DisplayName, err)
	}

	if _, err := u.client.Upload(ctx, item.DisplayName, mime, u.folder, content); err != nil {
		return 0, fmt.Errorf("upload %s: %w", item.DisplayName, err)
	}
	return int64(len(content)), nil
}

func (c *uploadCounters) record(item Item, size int64, err error, obs Observer) {
	var events []Event

	c.mu.Lock()
	c.completed++
	switch {
	case err == nil:
		c.summary.Succeeded++
		c.summary.Bytes += size
		metrics.TransferItemsTotal.WithLabelValues("upload", "success").Inc()
		metrics.TransferBytesTotal.WithLabelValues("upload").Add(float64(size))
	case errors.Is(err, ErrDuplicate):
		c.summary.Failed++
		c.summary.Duplicates++
		metrics.TransferItemsTotal.WithLabelValues("upload", "duplicate").Inc()
		events = append(events, errorf("Skipped %s: already uploaded", item.DisplayName))
	default:
		c.summary.Failed++
		metrics.TransferItemsTotal.WithLabelValues("upload", "error").Inc()
		events = append(events, errorf("Failed %s: %v", item.DisplayName, err))
	}
	if c.completed%ProgressEvery == 0 || c.completed == c.summary.Total {
		events = append(events, infof("Progress: %d/%d (%d succeeded, %d failed)",
			c.completed, c.summary.Total, c.summary.Succeeded, c.summary.Failed))
	}
	c.mu.Unlock()

	for _, e := range events {
		obs.OnProgress(e)
	}
}
