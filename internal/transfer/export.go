package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"image-vault/internal/filesystem"
	"image-vault/internal/logging"
	"image-vault/internal/metrics"
	"image-vault/internal/workers"
)

// partSuffix marks a download that has not finished yet.
const partSuffix = ".part"

// ExportItem names one stored asset to download.
type ExportItem struct {
	ID             string
	Folder         string
	StoredFilename string
	DisplayName    string
}

// ExportItems converts listed assets, naming each file after its original
// upload name.
func ExportItems(assets []Asset) []ExportItem {
	items := make([]ExportItem, 0, len(assets))
	for _, a := range assets {
		name := a.OriginalName
		if name == "" {
			name = a.StoredFilename
		}
		items = append(items, ExportItem{
			ID:             a.ID,
			Folder:         a.Folder,
			StoredFilename: a.StoredFilename,
			DisplayName:    name,
		})
	}
	return items
}

// ExportSummary is the outcome of one export batch.
type ExportSummary struct {
	Total      int
	Downloaded int
	Failed     int
	Bytes      int64
	Dest       string
}

func (s ExportSummary) String() string {
	if s.Failed > 0 {
		return fmt.Sprintf("Export complete: %d downloaded to %s, %d failed", s.Downloaded, s.Dest, s.Failed)
	}
	return fmt.Sprintf("Export complete: %d downloaded to %s", s.Downloaded, s.Dest)
}

// BatchExporter downloads stored originals into a local directory.
type BatchExporter struct {
	client      *Client
	concurrency int
}

// NewBatchExporter returns an exporter reading from client's server.
func NewBatchExporter(client *Client) *BatchExporter {
	return &BatchExporter{client: client, concurrency: Concurrency}
}

// Run downloads every item into dest, which must already exist. Files that
// share a sanitized name get _1, _2 ... suffixes; names are reserved for the
// whole batch so concurrent downloads never pick the same one.
func (e *BatchExporter) Run(ctx context.Context, items []ExportItem, dest string, obs Observer) ExportSummary {
	obs = observerOrNop(obs)

	var (
		mu        sync.Mutex
		completed int
		summary   = ExportSummary{Total: len(items), Dest: dest}
		names     = filesystem.NewNameRegistry(dest)
	)

	workers.Run(items, e.concurrency, func(item ExportItem) error {
		path, size, err := e.exportOne(ctx, names, item)

		mu.Lock()
		completed++
		n := completed
		if err == nil {
			summary.Downloaded++
			summary.Bytes += size
		} else {
			summary.Failed++
		}
		mu.Unlock()

		if err != nil {
			metrics.TransferItemsTotal.WithLabelValues("export", "error").Inc()
			obs.OnProgress(errorf("[%d/%d] Failed %s: %v", n, len(items), item.DisplayName, err))
			return err
		}
		metrics.TransferItemsTotal.WithLabelValues("export", "success").Inc()
		metrics.TransferBytesTotal.WithLabelValues("export").Add(float64(size))
		logging.Debug("Exported %s to %s", item.StoredFilename, path)
		obs.OnProgress(infof("[%d/%d] Downloaded %s", n, len(items), item.DisplayName))
		return nil
	})

	sev := SeveritySuccess
	if summary.Failed > 0 {
		sev = SeverityError
	}
	obs.OnComplete(Event{Message: summary.String(), Severity: sev})
	return summary
}

// exportOne downloads item to a reserved name via a .part file. On failure
// nothing is left on disk and the name is released.
func (e *BatchExporter) exportOne(ctx context.Context, names *filesystem.NameRegistry, item ExportItem) (string, int64, error) {
	path, err := names.Reserve(filesystem.SanitizeFilename(item.DisplayName))
	if err != nil {
		return "", 0, err
	}

	size, err := e.download(ctx, item, path)
	if err != nil {
		names.Release(path)
		return "", 0, err
	}
	return path, size, nil
}

func (e *BatchExporter) download(ctx context.Context, item ExportItem, path string) (size int64, err error) {
	part := path + partSuffix
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}
	defer func() {
		if err != nil {
			if rmErr := filesystem.RemoveIfExists(part); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		}
	}()

	size, err = e.client.Download(ctx, item.Folder, item.StoredFilename, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", part, closeErr)
	}
	if err != nil {
		return 0, err
	}

	if err := os.Rename(part, path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", part, err)
	}
	return size, nil
}
