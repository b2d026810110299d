// Package logger provides a slog-based logging factory with environment
// presets and context-aware attribute injection.
//
// The factory returns a standard *slog.Logger so application code depends
// only on log/slog. Typed attribute helpers (UserID, BookID, Error, ...)
// keep attribute keys consistent across the codebase.
//
// Usage:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "bookcircle"),
//		logger.WithContextExtractors(requestIDExtractor),
//	)
//	logger.SetAsDefault(log)
package logger
