// Package budget keeps a conversation inside a model's context window.
//
// Accountant estimates how many prompt tokens a conversation costs and
// Reducer trims the oldest turns until the estimate fits the limit.
package budget

import (
	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/tokenizer"
)

// Chat-format accounting constants. One signed convention is used
// everywhere: overhead and name adjustment are added per message, reply
// priming is subtracted once per conversation.
const (
	// MessageOverhead frames every message: <im_start>{role/name}\n{content}<im_end>\n
	MessageOverhead = 4
	// NameAdjustment applies when a message carries a name; the role token
	// is omitted in that case.
	NameAdjustment = -1
	// ReplyPriming is the <im_start>assistant prefix of the reply.
	ReplyPriming = 2
)

// Accountant counts conversation tokens. The constants are fields so they
// can be calibrated from config against a provider's reported usage.
type Accountant struct {
	tok tokenizer.Tokenizer

	MessageOverhead int
	NameAdjustment  int
	ReplyPriming    int
}

// NewAccountant returns an Accountant with the default constants.
func NewAccountant(tok tokenizer.Tokenizer) *Accountant {
	return &Accountant{
		tok:             tok,
		MessageOverhead: MessageOverhead,
		NameAdjustment:  NameAdjustment,
		ReplyPriming:    ReplyPriming,
	}
}

// Tokenizer returns the tokenizer the accountant counts with.
func (a *Accountant) Tokenizer() tokenizer.Tokenizer { return a.tok }

// FramingCost is what msg costs with its content removed.
func (a *Accountant) FramingCost(msg provider.Message) int {
	n := a.MessageOverhead + len(a.tok.Encode(string(msg.Role)))
	if msg.Name != "" {
		n += len(a.tok.Encode(msg.Name)) + a.NameAdjustment
	}
	return n
}

// MessageCost is the full cost of msg, framing included.
func (a *Accountant) MessageCost(msg provider.Message) int {
	return a.FramingCost(msg) + len(a.tok.Encode(msg.Content))
}

// Count estimates the prompt tokens of conv. An empty conversation is 0.
func (a *Accountant) Count(conv provider.Conversation) int {
	if len(conv) == 0 {
		return 0
	}
	total := 0
	for _, msg := range conv {
		total += a.MessageCost(msg)
	}
	total -= a.ReplyPriming
	if total < 0 {
		return 0
	}
	return total
}

// Exceeding reports whether usage is over limit. Reaching the limit exactly
// is still within budget.
func Exceeding(usage, limit int) bool {
	return usage > limit
}
