// Package log provides slog attribute helpers and a preconfigured JSON
// logger for the orchestrator.
package log

import "log/slog"

func Engine[T ~string](key T) slog.Attr {
	return slog.String("engine", string(key))
}

func Flow[T ~string](name T) slog.Attr {
	return slog.String("flow", string(name))
}

func Step(name string) slog.Attr {
	return slog.String("step", name)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
