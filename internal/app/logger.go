package app

import (
	"encoding/json"
	"io"
	"time"
)

// Logger writes one JSON object per line. Loggers derived through
// WithComponent share the same writer and tag every event with the
// originating pipeline component.
type Logger struct {
	out       io.Writer
	component string
}

type LogEvent struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func NewLogger(out io.Writer) *Logger {
	return &Logger{out: out}
}

// WithComponent returns a logger that tags every event with the given name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{out: l.out, component: name}
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.write("debug", message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.write("info", message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.write("error", message, fields)
}

func (l *Logger) write(level, message string, fields map[string]interface{}) {
	evt := LogEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Message:   message,
		Fields:    fields,
	}
	payload, _ := json.Marshal(evt)
	payload = append(payload, '\n')
	_, _ = l.out.Write(payload)
}
