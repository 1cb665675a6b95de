package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHubURL     = "https://huggingface.co"
	tokenizerFileName = "tokenizer.json"
)

// Resolver finds the tokenizer.json for a model id. Local files and
// directories are used as-is; hub ids are downloaded once into CacheDir.
type Resolver struct {
	HubURL   string
	CacheDir string
	Client   *http.Client
	Log      *zap.SugaredLogger
}

func NewResolver(hubURL, cacheDir string, log *zap.SugaredLogger) *Resolver {
	if hubURL == "" {
		hubURL = DefaultHubURL
	}
	if cacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(dir, "qa-api", "tokenizers")
		}
	}
	return &Resolver{
		HubURL:   strings.TrimSuffix(hubURL, "/"),
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: 2 * time.Minute},
		Log:      log,
	}
}

func (r *Resolver) Resolve(ctx context.Context, modelID string) (string, error) {
	if modelID == "" {
		return "", errors.New("model id is required")
	}
	if info, err := os.Stat(modelID); err == nil {
		if info.IsDir() {
			path := filepath.Join(modelID, tokenizerFileName)
			if _, err := os.Stat(path); err != nil {
				return "", fmt.Errorf("tokenizer directory %q: %w", modelID, err)
			}
			return path, nil
		}
		return modelID, nil
	}

	if strings.Contains(modelID, "..") || strings.HasPrefix(modelID, "/") {
		return "", fmt.Errorf("invalid model id %q", modelID)
	}
	local := filepath.Join(r.CacheDir, filepath.FromSlash(modelID), tokenizerFileName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if err := r.download(ctx, modelID, local); err != nil {
		return "", err
	}
	return local, nil
}

func (r *Resolver) download(ctx context.Context, modelID, dest string) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", r.HubURL, modelID, tokenizerFileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building tokenizer request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching tokenizer for %q: %w", modelID, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub returned status %d for %q: %s", resp.StatusCode, modelID, string(body))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating tokenizer cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), tokenizerFileName+".*")
	if err != nil {
		return fmt.Errorf("creating tokenizer temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing tokenizer for %q: %w", modelID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing tokenizer for %q: %w", modelID, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("storing tokenizer for %q: %w", modelID, err)
	}
	if r.Log != nil {
		r.Log.Infow("Downloaded tokenizer", "model", modelID, "path", dest)
	}
	return nil
}
