// Package publish ships tractometry results to optional external sinks: the
// CSV report to S3-compatible object storage (MinIO) and the per-measure rows
// to a PostgreSQL table. Both sinks are disabled unless configured.
package publish
