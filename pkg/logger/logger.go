package logger

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out *os.File
)

// Init sets up the process-wide JSON event logger. Safe to call more than
// once; later calls are no-ops.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		out = os.Stdout
	}
}

func write(level, event string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		out = os.Stdout
	}

	entry := map[string]interface{}{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"event": event,
	}
	for k, v := range fields {
		entry[k] = v
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	out.Write(append(line, '\n'))
}

func Info(event string, fields map[string]interface{}) {
	write("info", event, fields)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["user_id"] = userID
	write("info", event, fields)
}

func Warn(event string, fields map[string]interface{}) {
	write("warn", event, fields)
}

func Error(event string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	write("error", event, fields)
}
