// Package logs reads the JSON run log written by the logging package.
//
// Tail returns the last matching entries of the log, or the entries appended
// after a byte offset, and can wait for new lines in follow mode. Filters
// select entries by run ID, stage, subject, and minimum level, so one run can
// be isolated from a log shared by every pipeline invocation.
package logs
