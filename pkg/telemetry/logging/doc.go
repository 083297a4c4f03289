// Package logging configures the process slog logger.
//
// Setup builds a JSON or text handler at the configured level, wraps it in
// a Handler that masks credentials (proxy secrets, upstream keys, bearer
// tokens) and adds request_id, key_id and trace_id from the context, and
// installs the result as slog's default. Components then derive their
// loggers with slog.Default().With("component", ...).
package logging
