// Package logger builds log/slog loggers with environment presets and
// context-driven attributes.
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "api"),
//	    logger.WithContextExtractors(session.LogExtractor),
//	)
//	log.InfoContext(ctx, "session saved", logger.Backend("redis"))
//
// Attribute helpers (SessionID, IndexKey, Backend, Operation, ...) keep key
// names consistent across packages. SessionID truncates identifiers so that
// bearer credentials never reach the log.
//
// Config and NewFromConfig read APP_ENV, APP_NAME, LOG_LEVEL and LOG_FORMAT.
package logger
