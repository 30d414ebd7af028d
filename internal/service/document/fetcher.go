package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/vectordocs/pkg/storage"
)

// StorageScheme prefixes download URLs that point into object storage.
const StorageScheme = "storage://"

// ErrTooLarge is returned when a download exceeds the size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// StorageURL is the download URL of an object storage key.
func StorageURL(key string) string {
	return StorageScheme + key
}

// Fetcher downloads the bytes behind a DocumentUploaded event.
type Fetcher struct {
	storage storage.Storage
	client  *http.Client
	maxSize int64
}

func NewFetcher(st storage.Storage, maxSize int64, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{
		storage: st,
		client:  &http.Client{Timeout: timeout},
		maxSize: maxSize,
	}
}

// Fetch reads a storage:// key from object storage, anything else over
// HTTP with the owner passed in X-User-Id.
func (f *Fetcher) Fetch(ctx context.Context, url, userID string) ([]byte, error) {
	if key, ok := strings.CutPrefix(url, StorageScheme); ok {
		if f.storage == nil {
			return nil, fmt.Errorf("no object storage configured for %s", url)
		}
		rc, err := f.storage.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return f.read(rc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("X-User-Id", userID)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("failed to download document: status %d: %w", resp.StatusCode, storage.ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download document: status %d", resp.StatusCode)
	}
	return f.read(resp.Body)
}

func (f *Fetcher) read(r io.Reader) ([]byte, error) {
	if f.maxSize <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, f.maxSize)
	}
	return data, nil
}
