// Command import-geo loads a GeoNames cities dump into the SQLite city directory used by
// the dashboard's search widget.
package main

import (
	"archive/zip"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/geo"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

const defaultSource = "https://download.geonames.org/export/dump/cities15000.zip"

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", envOr("GEO_DB_PATH", "data/cities.db"), "SQLite database path")
	source := flag.String("src", defaultSource, "GeoNames dump: URL or local .zip/.txt path")
	dataDir := flag.String("data", "data", "directory for downloaded dumps")
	flag.Parse()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.FlushTelemetry(logger) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *dbPath, *source, *dataDir); err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, dbPath, source, dataDir string) error {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := geo.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	path := source
	if isURL(source) {
		path = filepath.Join(dataDir, filepath.Base(source))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Info("downloading dump", zap.String("url", source), zap.String("path", path))
			if err := downloadFile(ctx, source, path); err != nil {
				return err
			}
		} else {
			logger.Info("using existing dump", zap.String("path", path))
		}
	}

	r, closeFn, err := openDump(path)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("importing cities", zap.String("source", path), zap.String("db", dbPath))
	stats, err := store.Import(ctx, r)
	if err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("import complete",
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped),
		zap.Int("total", total))
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// openDump returns a reader over the first .txt entry of a zip, or the file itself.
func openDump(path string) (io.Reader, func(), error) {
	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".txt") {
			rc, err := f.Open()
			if err != nil {
				zr.Close()
				return nil, nil, err
			}
			return rc, func() { rc.Close(); zr.Close() }, nil
		}
	}
	zr.Close()
	return nil, nil, fmt.Errorf("no .txt file found in %s", path)
}

func downloadFile(ctx context.Context, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
