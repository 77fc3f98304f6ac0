package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/peterh/liner"
)

// Output styles understood by PlainIO.
const (
	StylePlain    = "plain"
	StyleMarkdown = "markdown"
)

// PlainOptions configures a PlainIO. Zero values fall back to the process'
// standard streams.
type PlainOptions struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Style is StylePlain (stream deltas as they arrive) or StyleMarkdown
	// (render the whole reply with glamour once it is complete).
	Style string

	// Interactive enables line editing, input history, the spinner and
	// Ctrl+C handling. Set it only when stdin and stdout are terminals.
	Interactive bool

	// HistoryFile persists input history between runs. Optional.
	HistoryFile string

	Width int
}

// PlainIO implements IO using line-mode terminal output.
type PlainIO struct {
	opts    PlainOptions
	line    *liner.State
	scanner *bufio.Scanner

	spin     *lineSpinner
	streamed bool

	used, limit int

	mu     sync.Mutex
	cancel context.CancelFunc
	sigCh  chan os.Signal
}

var (
	_ IO            = (*PlainIO)(nil)
	_ LoopCanceller = (*PlainIO)(nil)
)

// NewPlainIO creates a PlainIO. Call Close when done to restore the terminal
// and save the input history.
func NewPlainIO(opts PlainOptions) *PlainIO {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Style == "" {
		opts.Style = StyleMarkdown
	}

	p := &PlainIO{opts: opts}
	if opts.Interactive && liner.TerminalSupported() {
		p.line = liner.NewLiner()
		p.line.SetCtrlCAborts(true)
		p.loadHistory()
	} else {
		s := bufio.NewScanner(opts.In)
		s.Buffer(make([]byte, 1024*1024), 1024*1024)
		p.scanner = s
	}
	return p
}

// SetCompleter installs tab completion for the input line.
func (p *PlainIO) SetCompleter(f func(line string) []string) {
	if p.line != nil {
		p.line.SetCompleter(f)
	}
}

func (p *PlainIO) loadHistory() {
	if p.opts.HistoryFile == "" {
		return
	}
	if f, err := os.Open(p.opts.HistoryFile); err == nil {
		p.line.ReadHistory(f)
		f.Close()
	}
}

// Close saves the input history and restores the terminal.
func (p *PlainIO) Close() error {
	p.stopSpinner()
	if p.line == nil {
		return nil
	}
	if p.opts.HistoryFile != "" {
		if f, err := os.OpenFile(p.opts.HistoryFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			p.line.WriteHistory(f)
			f.Close()
		}
	}
	return p.line.Close()
}

func (p *PlainIO) ReadInput() (string, error) {
	fmt.Fprintln(p.opts.Out)
	if p.line != nil {
		input, err := p.line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		input = strings.TrimSpace(input)
		if input != "" {
			p.line.AppendHistory(input)
		}
		return input, nil
	}

	fmt.Fprint(p.opts.Out, "> ")
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

func (p *PlainIO) UserMessage(_ string) {
	// Plain terminal: the user already sees what they typed.
}

func (p *PlainIO) ThinkingStart() {
	p.streamed = false
	fmt.Fprintln(p.opts.Out)
	if p.opts.Interactive {
		p.stopSpinner()
		p.spin = startSpinner(p.opts.Out, "Thinking...")
	}
}

func (p *PlainIO) TextDelta(delta string) {
	if p.opts.Style == StyleMarkdown {
		return
	}
	p.stopSpinner()
	p.streamed = true
	fmt.Fprint(p.opts.Out, delta)
}

func (p *PlainIO) TextDone(fullText string) {
	p.stopSpinner()
	if p.opts.Style == StyleMarkdown {
		fmt.Fprintln(p.opts.Out, renderMarkdown(fullText, p.opts.Width))
		return
	}
	if !p.streamed {
		fmt.Fprint(p.opts.Out, fullText)
	}
	fmt.Fprintln(p.opts.Out)
	p.streamed = false
}

func (p *PlainIO) SystemMessage(text string) {
	p.stopSpinner()
	fmt.Fprintln(p.opts.Out, systemStyle.Render(text))
}

func (p *PlainIO) Error(msg string) {
	p.stopSpinner()
	fmt.Fprintln(p.opts.Err, errorStyle.Render("error: "+msg))
}

func (p *PlainIO) SetTokens(used, limit int) {
	p.used, p.limit = used, limit
}

func (p *PlainIO) stopSpinner() {
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
}

// --- LoopCanceller implementation ---

// SetLoopCancel makes SIGINT cancel the current turn instead of killing the
// process. Only interactive sessions install the handler.
func (p *PlainIO) SetLoopCancel(cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = cancel
	if !p.opts.Interactive || p.sigCh != nil {
		return
	}
	p.sigCh = make(chan os.Signal, 1)
	signal.Notify(p.sigCh, os.Interrupt)
	go func(ch chan os.Signal) {
		for range ch {
			p.mu.Lock()
			if p.cancel != nil {
				p.cancel()
				p.cancel = nil
			}
			p.mu.Unlock()
		}
	}(p.sigCh)
}

// ClearLoopCancel restores default SIGINT handling when the turn ends.
func (p *PlainIO) ClearLoopCancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = nil
	if p.sigCh != nil {
		signal.Stop(p.sigCh)
		close(p.sigCh)
		p.sigCh = nil
	}
}
