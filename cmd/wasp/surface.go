package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"wasp/pkg/logging"
)

// consoleSurface prints pipeline status to a terminal. Progress lines are
// printed every ten percent.
type consoleSurface struct {
	out io.Writer
	log *logging.Logger

	status  string
	value   int
	bucket  int
	visible bool
}

func newConsoleSurface(out io.Writer, log *logging.Logger) *consoleSurface {
	return &consoleSurface{out: out, log: log, bucket: -1}
}

func (s *consoleSurface) SetStatusText(text string) {
	s.status = text
	if !strings.HasPrefix(text, "Running ") {
		fmt.Fprintf(s.out, "[%s]\n", text)
	}
}

func (s *consoleSurface) ShowProgress() {
	s.visible = true
}

func (s *consoleSurface) HideProgress(reset bool) {
	s.visible = false
	if reset {
		s.value = 0
		s.bucket = -1
	}
}

func (s *consoleSurface) SetProgressValue(value int) {
	s.value = value
	if b := value / 10; b != s.bucket {
		s.bucket = b
		if s.visible && strings.HasPrefix(s.status, "Running ") {
			fmt.Fprintf(s.out, "  %3d%%  %s\n", value, s.status)
		}
	}
}

func (s *consoleSurface) ShowDialog(text string, _ time.Duration) {
	s.log.Warning("ui", "dialog", map[string]interface{}{"text": text})
	fmt.Fprintf(s.out, "\n%s\n\n", text)
}
