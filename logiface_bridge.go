package flatmap

import (
	"github.com/joeycumines/logiface"
)

// NewLogifaceLogger adapts l, a github.com/joeycumines/logiface logger, to
// this package's [Logger] seam, so an application already standardized on
// logiface (the teacher's own structured-logging facade) can pass its
// existing logger straight into [WithLogger] instead of writing a bespoke
// bridge.
//
// Fields pass through Builder.Any (Event.AddField) rather than logiface's
// per-type Add* fast paths: those exist for high-frequency call sites, which
// this bridge, sitting behind an already-checked Enabled(), doesn't need.
func NewLogifaceLogger(l *logiface.Logger[logiface.Event]) Logger {
	return &logifaceLogger{l: l}
}

type logifaceLogger struct {
	l *logiface.Logger[logiface.Event]
}

func (b *logifaceLogger) Enabled(level Level) bool {
	if b.l == nil {
		return false
	}
	return b.l.Level() >= toLogifaceLevel(level)
}

func (b *logifaceLogger) Log(e Event) {
	if b.l == nil {
		return
	}
	bld := b.l.Build(toLogifaceLevel(e.Level))
	if bld == nil {
		return
	}
	if e.Category != "" {
		bld = bld.Str("category", e.Category)
	}
	if e.Err != nil {
		bld = bld.Err(e.Err)
	}
	for k, v := range e.Fields {
		bld = bld.Any(k, v)
	}
	bld.Log(e.Message)
}

func toLogifaceLevel(l Level) logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
