package hsms

import (
	"fmt"
	"strings"
	"time"

	"github.com/fablink/go-hsms/logger"
)

// LogEvent is a log record published to log listeners of a communicator.
type LogEvent struct {
	Time    time.Time
	Level   logger.LogLevel
	Subject string
	Message string
	// Attrs holds the structured key/value pairs of the record.
	Attrs []any
	Err   error
}

// Value returns the attribute stored under key, or nil.
func (e LogEvent) Value(key string) any {
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		if k, ok := e.Attrs[i].(string); ok && k == key {
			return e.Attrs[i+1]
		}
	}

	return nil
}

func (e LogEvent) String() string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(time.RFC3339Nano))
	sb.WriteByte(' ')
	sb.WriteString(strings.ToUpper(logger.LevelName(e.Level)))
	if e.Subject != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Subject)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(e.Message)
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", e.Attrs[i], e.Attrs[i+1])
	}
	if e.Err != nil {
		sb.WriteString(" error=")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}
