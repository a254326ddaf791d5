package tui

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogHook mirrors log entries at or above a level into a bounded buffer that
// the status bar drains. When the buffer is full the oldest line is dropped.
type LogHook struct {
	ch        chan string
	formatter log.Formatter
	mu        sync.Mutex
	levels    []log.Level
}

// NewLogHook returns a hook buffering bufSize lines for entries at minLevel or more severe.
func NewLogHook(bufSize int, minLevel log.Level) *LogHook {
	levels := make([]log.Level, 0, len(log.AllLevels))
	for _, l := range log.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &LogHook{
		ch:     make(chan string, bufSize),
		levels: levels,
	}
}

// SetFormatter renders lines with f instead of "[level] message".
func (h *LogHook) SetFormatter(f log.Formatter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formatter = f
}

func (h *LogHook) Levels() []log.Level {
	return h.levels
}

func (h *LogHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	f := h.formatter
	h.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Message)
	if f != nil {
		if b, err := f.Format(entry); err == nil {
			line = strings.TrimRight(string(b), "\n\r")
		}
	}

	select {
	case h.ch <- line:
	default:
		select {
		case <-h.ch:
		default:
		}
		select {
		case h.ch <- line:
		default:
		}
	}
	return nil
}

// Drain returns every buffered line without blocking.
func (h *LogHook) Drain() []string {
	var lines []string
	for {
		select {
		case line := <-h.ch:
			lines = append(lines, line)
		default:
			return lines
		}
	}
}
