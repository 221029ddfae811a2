package observability

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger emits one JSON object per line on stdout.
type Logger struct {
	base    *log.Logger
	service string
}

func NewLogger() *Logger {
	return &Logger{base: log.New(os.Stdout, "", 0), service: "contacts-api"}
}

func (l *Logger) Info(event string, fields map[string]any) {
	l.write("info", event, fields)
}

func (l *Logger) Warn(event string, fields map[string]any) {
	l.write("warn", event, fields)
}

func (l *Logger) Error(event string, fields map[string]any) {
	l.write("error", event, fields)
}

func (l *Logger) write(level, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"event":   event,
		"service": l.service,
	}
	for k, v := range fields {
		payload[k] = v
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		l.base.Println(`{"level":"error","event":"log_encode_failed"}`)
		return
	}

	l.base.Println(string(encoded))
}
