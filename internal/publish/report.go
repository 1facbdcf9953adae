package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tractkit/internal/config"
	"tractkit/internal/logging"
)

// Row is one (group, subject, tract, measure) statistic. Values are kept as
// text because missing inputs are reported with sentinel strings.
type Row struct {
	Group   string
	Subject string
	Tract   string
	Measure string
	Mean    string
	Std     string
	Count   string
}

// Report is a finished tractometry report.
type Report struct {
	RunID string
	Date  time.Time
	Path  string
	Rows  []Row
}

// Uploader stores a report file and returns the object key it was stored under.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Exporter writes report rows to a database and returns the number of rows written.
type Exporter interface {
	Export(ctx context.Context, report Report) (int64, error)
}

// Publisher fans a report out to the configured sinks.
type Publisher struct {
	Uploader Uploader
	Exporter Exporter
	logger   *slog.Logger
}

// NewPublisher builds a publisher from configuration. Disabled sinks are left nil.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{logger: logging.NewComponentLogger(logger, "publish")}
	if cfg == nil {
		return p, nil
	}
	if cfg.Storage.Enabled {
		store, err := NewReportStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		p.Uploader = store
	}
	if cfg.Database.Enabled {
		p.Exporter = NewPostgresExporter(cfg.Database)
	}
	return p, nil
}

// Enabled reports whether any sink is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && (p.Uploader != nil || p.Exporter != nil)
}

// Publish sends report to every configured sink. Every sink is attempted;
// failures are joined.
func (p *Publisher) Publish(ctx context.Context, report Report) error {
	if !p.Enabled() {
		return nil
	}
	logger := logging.WithContext(ctx, p.logger)
	var errs []error
	if p.Uploader != nil {
		key, err := p.Uploader.Upload(ctx, report.Path)
		if err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("report uploaded",
				logging.String(logging.FieldEventType, "report_uploaded"),
				logging.String("object_key", key),
			)
		}
	}
	if p.Exporter != nil {
		n, err := p.Exporter.Export(ctx, report)
		if err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("report rows exported",
				logging.String(logging.FieldEventType, "report_exported"),
				logging.Int64("rows", n),
			)
		}
	}
	return errors.Join(errs...)
}
