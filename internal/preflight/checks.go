package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"

	"tractkit/internal/config"
	"tractkit/internal/deps"
	"tractkit/internal/publish"
)

const sinkCheckTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that an input directory exists and can be listed.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CheckObjectStorage verifies the MinIO endpoint answers for the configured bucket.
func CheckObjectStorage(ctx context.Context, cfg config.Storage) Result {
	const name = "Object storage"

	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Result{Name: name, Detail: "missing endpoint"}
	}
	store, err := publish.NewReportStore(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, sinkCheckTimeout)
	defer cancel()
	if err := store.Check(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s reachable", cfg.Endpoint, cfg.Bucket)}
}

// CheckKafka verifies that at least one configured broker accepts a connection.
func CheckKafka(ctx context.Context, cfg config.Events) Result {
	const name = "Kafka"

	if len(cfg.Brokers) == 0 {
		return Result{Name: name, Detail: "no brokers configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, sinkCheckTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialContext(checkCtx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (topic %s)", broker, cfg.Topic)}
	}
	return Result{Name: name, Detail: summarizeError(lastErr)}
}

// CheckDatabase verifies that the export database accepts connections.
func CheckDatabase(ctx context.Context, cfg config.Database) Result {
	const name = "PostgreSQL"

	if strings.TrimSpace(cfg.DSN) == "" {
		return Result{Name: name, Detail: "missing dsn"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, sinkCheckTimeout)
	defer cancel()
	if err := publish.NewPostgresExporter(cfg).Check(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable (table %s)", cfg.Table)}
}

// SinkStatus reports every optional sink, marking disabled ones without
// contacting them.
func SinkStatus(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := make([]Result, 0, 3)
	if cfg.Storage.Enabled {
		results = append(results, CheckObjectStorage(ctx, cfg.Storage))
	} else {
		results = append(results, Result{Name: "Object storage", Detail: "Disabled"})
	}
	if cfg.Events.Enabled {
		results = append(results, CheckKafka(ctx, cfg.Events))
	} else {
		results = append(results, Result{Name: "Kafka", Detail: "Disabled"})
	}
	if cfg.Database.Enabled {
		results = append(results, CheckDatabase(ctx, cfg.Database))
	} else {
		results = append(results, Result{Name: "PostgreSQL", Detail: "Disabled"})
	}
	return results
}

// CheckSystemDeps evaluates the external programs a pipeline needs. An empty
// pipeline name checks every pipeline, de-duplicated by program.
func CheckSystemDeps(cfg *config.Config, pipeline string) []deps.Status {
	pipelines := []string{pipeline}
	if pipeline == "" {
		pipelines = deps.Pipelines()
	}
	seen := make(map[string]struct{})
	var requirements []deps.Requirement
	for _, p := range pipelines {
		for _, req := range deps.Requirements(p, cfg.Binary) {
			if _, ok := seen[req.Name]; ok {
				continue
			}
			seen[req.Name] = struct{}{}
			requirements = append(requirements, req)
		}
	}
	return deps.CheckBinaries(requirements)
}

// summarizeError produces a human-readable summary for sink check failures.
func summarizeError(err error) string {
	if err == nil {
		return "unreachable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
