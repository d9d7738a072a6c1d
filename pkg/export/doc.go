// Package export provides bucket backup and restore.
//
// # Formats
//
// JSON exports carry a metadata header (export time, range, bucket count,
// format version) and the full bucket records. They can be restored with
// Restorer or POST /v1/restore.
//
// CSV exports flatten each bucket into one row with columns
// counter, tier, start, width, sum, sum_squares, min, max, count, average.
// They are export-only.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//   - format: "json" or "csv" (default: json)
//   - start, end: unix seconds or RFC3339 (default: the last 24 hours)
//   - counter: counter name, may repeat
//   - tier: tier name
//
// Restore endpoint: POST /v1/restore (Content-Type: application/json)
//
// The export window is capped at 30 days per request; use the CLI export
// command for larger dumps.
package export
