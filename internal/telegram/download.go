package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// maxDownload matches the Bot API limit for files fetched by bots.
const maxDownload = 20 << 20

var errTooLarge = errors.New("file exceeds download limit")

// fetch streams the Telegram file fileID into w.
func (b *Bot) fetch(ctx context.Context, fileID string, w io.Writer) error {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		// the url carries the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if n > maxDownload {
		return errTooLarge
	}
	return nil
}

// fetchTemp downloads fileID into a new temporary file named by pattern.
// The caller must remove the returned path, also on error.
func (b *Bot) fetchTemp(ctx context.Context, fileID, pattern string) (string, error) {
	f, err := os.CreateTemp(b.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if err := b.fetch(ctx, fileID, f); err != nil {
		f.Close()
		return path, err
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}
