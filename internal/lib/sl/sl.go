// Package sl holds small slog attribute helpers shared by every service.
package sl

import "log/slog"

// Err wraps an error into a standard "error" attribute.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Module tags log records with the emitting component name.
func Module(name string) slog.Attr {
	return slog.Attr{
		Key:   "module",
		Value: slog.StringValue(name),
	}
}

// Secret logs only a short prefix of a sensitive value.
func Secret(key, value string) slog.Attr {
	const keep = 4
	masked := "****"
	if len(value) > keep {
		masked = value[:keep] + "****"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(masked),
	}
}
