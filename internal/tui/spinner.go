package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// lineSpinner animates a bubbles spinner on a single terminal line while the
// assistant is thinking. It is for PlainIO; the full-screen model uses the
// bubbles spinner directly.
type lineSpinner struct {
	out    io.Writer
	label  string
	frames spinner.Spinner

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startSpinner(out io.Writer, label string) *lineSpinner {
	s := &lineSpinner{
		out:    out,
		label:  label,
		frames: spinner.Globe,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *lineSpinner) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.frames.FPS)
	defer ticker.Stop()

	for i := 0; ; i++ {
		frame := s.frames.Frames[i%len(s.frames.Frames)]
		fmt.Fprintf(s.out, "\r%s %s", spinnerStyle.Render(frame), s.label)
		select {
		case <-s.stop:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// Stop clears the spinner line. It blocks until the line is cleared so the
// caller's next write starts on a clean line. Safe to call more than once.
func (s *lineSpinner) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
