package distribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrChecksumMismatch is returned when downloaded content does not match its package hash
var ErrChecksumMismatch = errors.New("checksum mismatch")

// httpDownloader fetches package content over HTTP
type httpDownloader struct {
	client *http.Client
}

// Download writes the body of url to dst and returns the SHA-256 of what was written.
// dst is removed if the download fails.
func (d *httpDownloader) Download(ctx context.Context, url string, dst *os.File) (string, error) {
	sum, err := d.download(ctx, url, dst)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return sum, nil
}

func (d *httpDownloader) download(ctx context.Context, url string, dst io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, hasher), resp.Body); err != nil {
		return "", fmt.Errorf("failed to write package: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// verifyChecksum compares a computed SHA-256 against the expected package hash
func verifyChecksum(got, want string) error {
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, got)
	}
	return nil
}

// calculateSHA256 returns the hex SHA-256 of a file
func calculateSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
