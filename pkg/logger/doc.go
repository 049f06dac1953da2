// Package logger builds the application's slog.Logger: text output in
// development, JSON in production, optionally teed to an append-only file.
package logger
