package budget

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/provider"
)

// ErrReductionExhausted means every removable message was consumed and the
// conversation still does not fit.
var ErrReductionExhausted = errors.New("conversation cannot be reduced below the token limit")

// Reducer trims a conversation from the oldest non-system message forward.
type Reducer struct {
	acct *Accountant
	log  *zap.Logger
}

// NewReducer returns a Reducer. log may be nil.
func NewReducer(acct *Accountant, log *zap.Logger) *Reducer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reducer{acct: acct, log: log}
}

// Reduce returns a conversation whose count is at most limit, together with
// the recounted usage. conv itself is never modified. When conv fits already
// it is returned as is. When only the system prompt would be left, whether or
// not it fits, Reduce returns conv, usage and ErrReductionExhausted.
//
// Tokens are taken from the front of the oldest message first. A message that
// runs empty is removed and its framing is credited as freed; a partially
// trimmed message goes back in its original position.
func (r *Reducer) Reduce(conv provider.Conversation, usage, limit int) (provider.Conversation, int, error) {
	if !Exceeding(usage, limit) {
		return conv, usage, nil
	}

	work := conv.Clone()
	first := work.FirstRemovable()
	tok := r.acct.Tokenizer()
	current := usage

	for pass := 1; Exceeding(current, limit); pass++ {
		reduceAmount := current - limit
		var (
			remainder []int
			partial   provider.Message
			trimmed   bool
		)

		for Exceeding(current, limit) {
			if len(work) <= first {
				r.log.Debug("reduction exhausted",
					zap.Int("pass", pass),
					zap.Int("usage", current),
					zap.Int("limit", limit))
				return conv, usage, ErrReductionExhausted
			}

			candidate := work[first]
			work = append(work[:first], work[first+1:]...)
			tokens := tok.Encode(candidate.Content)

			n := min(reduceAmount, len(tokens))
			tokens = tokens[n:]
			reduceAmount -= n
			current -= n

			if len(tokens) > 0 {
				remainder, partial, trimmed = tokens, candidate, true
				continue
			}
			trimmed = false
			if Exceeding(current, limit) {
				freed := r.acct.FramingCost(candidate)
				current -= freed
				reduceAmount -= freed
			}
		}

		if trimmed {
			// Drop the tail bytes of a character split by the cut.
			partial.Content = strings.ToValidUTF8(tok.Decode(remainder), "")
			trimmed = partial.Content != ""
		}
		if trimmed {
			work = append(work[:first], append(provider.Conversation{partial}, work[first:]...)...)
		}
		if len(work) <= first {
			r.log.Debug("reduction left nothing to send",
				zap.Int("pass", pass),
				zap.Int("usage", current),
				zap.Int("limit", limit))
			return conv, usage, ErrReductionExhausted
		}

		recount := r.acct.Count(work)
		r.log.Debug("reduced conversation",
			zap.Int("pass", pass),
			zap.Int("tracked", current),
			zap.Int("recount", recount),
			zap.Int("limit", limit),
			zap.Int("messages", len(work)))
		current = recount
	}

	return work, current, nil
}
