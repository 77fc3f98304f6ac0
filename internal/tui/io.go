// Package tui renders the chat on the terminal. PlainIO is line based and
// works on any terminal or pipe; TuiIO drives a full-screen bubbletea program.
package tui

import "context"

// IO is everything the chat session needs from the terminal.
// ReadInput returns io.EOF when the user is done.
type IO interface {
	ReadInput() (string, error)
	UserMessage(text string)
	ThinkingStart()
	TextDelta(delta string)
	TextDone(fullText string)
	SystemMessage(text string)
	Error(msg string)
	SetTokens(used, limit int)
}

// LoopCanceller is implemented by IOs that can interrupt an in-flight turn
// (Ctrl+C while the assistant is answering).
type LoopCanceller interface {
	SetLoopCancel(cancel context.CancelFunc)
	ClearLoopCancel()
}
