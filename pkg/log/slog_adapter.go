package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors capture events into an slog.Logger at Debug level,
// one record per event with flat attribute keys.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := append(event.identity(), event.payloadAttrs()...)
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "capture", attrs...)
}

// identity returns the classification and the non-empty connection
// identifiers of e.
func (e Event) identity() []slog.Attr {
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("direction", e.Direction.String()),
		slog.String("layer", e.Layer.String()),
		slog.String("category", e.Category.String()),
	)
	if e.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", e.ConnectionID))
	}
	if e.LocalRole != 0 {
		attrs = append(attrs, slog.String("role", e.LocalRole.String()))
	}
	if e.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", e.RemoteAddr))
	}
	return attrs
}

// payloadAttrs flattens whichever payload e carries.
func (e Event) payloadAttrs() []slog.Attr {
	var attrs []slog.Attr
	optional := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}

	switch {
	case e.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", e.Frame.Size),
			slog.Bool("truncated", e.Frame.Truncated))
	case e.Record != nil:
		attrs = append(attrs,
			slog.String("record", e.Record.Type.String()),
			slog.Int("payload_size", e.Record.PayloadSize))
		optional("payload", e.Record.Diagnostic)
	case e.StateChange != nil:
		sc := e.StateChange
		attrs = append(attrs,
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState))
		optional("reason", sc.Reason)
	case e.Control != nil:
		attrs = append(attrs,
			slog.String("ctrl_type", e.Control.Type.String()),
			slog.Uint64("seq", uint64(e.Control.Seq)))
	case e.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", e.Error.Layer.String()),
			slog.String("error_msg", e.Error.Message),
			slog.Bool("fatal", e.Error.Fatal))
		optional("error_context", e.Error.Context)
	}
	return attrs
}

var _ Logger = (*SlogAdapter)(nil)
