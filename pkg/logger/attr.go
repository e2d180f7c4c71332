package logger

import (
	"log/slog"
	"time"
)

// sessionIDPrefix is how many leading characters of a session id are logged.
const sessionIDPrefix = 8

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under "error". A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// SessionID records a truncated session identifier under "session_id".
// Full identifiers are bearer credentials and never reach the log.
func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	if len(id) > sessionIDPrefix {
		id = id[:sessionIDPrefix] + "…"
	}
	return slog.String("session_id", id)
}

// IndexKey records the secondary index key under "index_key".
func IndexKey(key string) slog.Attr {
	if key == "" {
		return slog.Attr{}
	}
	return slog.String("index_key", key)
}

// Backend records the storage backend name under "backend".
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Operation records the storage operation under "op".
func Operation(name string) slog.Attr {
	return slog.String("op", name)
}

// Count records a number of affected items under "count".
func Count(n int64) slog.Attr {
	return slog.Int64("count", n)
}

// RetryCount records the retry count under "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Method and Path describe an HTTP request.
func Method(m string) slog.Attr { return slog.String("method", m) }
func Path(p string) slog.Attr   { return slog.String("path", p) }
