// Package steps provides the collaborator steps of a georef process:
// downloads, archive extraction, staging table loaders, schema and size
// validation, exports, copies to the destination and staging cleanup.
package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

const (
	defaultDownloadTimeout = 10 * time.Minute
	userAgent              = "georef-ar-etl/2"
)

// ErrNoURL is returned when neither the step nor the config names a URL.
var ErrNoURL = errors.New("no source url configured")

// Download fetches a URL into a file of the data file system.
type Download struct {
	name string

	// URL is the default source; the running process's configured
	// source URL wins over it
	URL string

	// Dest is the file written, relative to the data file system
	Dest string

	// Client performs the request
	Client *http.Client

	// Retry overrides the configured retry policy
	Retry *errhandling.RetryConfig
}

var _ etl.Step = (*Download)(nil)

// NewDownload creates a download step.
func NewDownload(name, url, dest string) *Download {
	return &Download{
		name:   name,
		URL:    url,
		Dest:   dest,
		Client: &http.Client{Timeout: defaultDownloadTimeout},
	}
}

// Name returns the step name.
func (d *Download) Name() string { return d.name }

// ReadsInput is false: the URL is fixed.
func (d *Download) ReadsInput() bool { return false }

func (d *Download) url(ectx *etl.Context) string {
	if ectx.Config != nil {
		if u := ectx.Config.Source(ectx.ProcessName()).URL; u != "" {
			return u
		}
	}
	return d.URL
}

func (d *Download) retryConfig(ectx *etl.Context) errhandling.RetryConfig {
	switch {
	case d.Retry != nil:
		return *d.Retry
	case ectx.Config != nil:
		return ectx.Config.Retry
	}
	return errhandling.DefaultRetryConfig()
}

// Run downloads the file and returns its path. In interactive mode an
// existing file is reused.
func (d *Download) Run(ctx context.Context, _ any, ectx *etl.Context) (any, error) {
	url := d.url(ectx)
	if url == "" {
		return nil, errhandling.NewProcessError(d.name, errhandling.CodeDownloadFailed, "no url", ErrNoURL)
	}

	if ectx.Interactive() {
		exists, err := ectx.FS.Exists(d.Dest)
		if err != nil {
			return nil, err
		}
		if exists {
			logger.Info("download skipped, file exists",
				slog.String("step", d.name),
				slog.String("path", d.Dest),
			)
			return d.Dest, nil
		}
	}

	start := time.Now()
	executor := errhandling.NewRetryExecutor(d.retryConfig(ectx))
	var size int64
	err := executor.Execute(ctx, func(ctx context.Context) error {
		n, err := d.fetch(ctx, url, ectx.FS)
		size = n
		return err
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn("download attempt failed",
			slog.String("step", d.name),
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.Duration("next_delay", next),
			slog.String("error", err.Error()),
		)
	})
	if err != nil {
		code := errhandling.CodeDownloadFailed
		var classified *errhandling.ClassifiedError
		if errors.As(err, &classified) && classified.StatusCode != 0 {
			code = errhandling.CodeHTTPStatus
		}
		return nil, errhandling.NewProcessError(d.name, code, "download of "+url+" failed", err)
	}

	logger.Info("download completed",
		slog.String("step", d.name),
		slog.String("url", url),
		slog.String("path", d.Dest),
		slog.Int64("bytes", size),
		slog.Duration("duration", time.Since(start)),
	)
	if ectx.Report != nil {
		ectx.Report.Info("Downloaded %s (%d bytes)", d.Dest, size)
	}
	return d.Dest, nil
}

// fetch performs one GET and streams the body to Dest.
func (d *Download) fetch(ctx context.Context, url string, fs fsys.FS) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating http request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errhandling.ClassifyNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		classified := errhandling.ClassifyHTTPStatus(resp.StatusCode, resp.Status)
		classified.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return 0, classified
	}

	w, err := fs.Create(d.Dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		_ = fsys.Abort(w)
		return n, errhandling.ClassifyNetworkError(err)
	}
	return n, w.Close()
}
