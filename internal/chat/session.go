// Package chat runs the interactive conversation: it keeps the conversation
// inside the token budget, talks to the provider, and saves the result.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/session"
	"github.com/termgpt/termgpt/internal/tui"
)

// State is where the session is in its turn cycle.
type State int

const (
	AwaitingInput State = iota
	Estimating
	Reducing
	CallingProvider
	Appending
	Persisting
	Exit
)

func (s State) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting_input"
	case Estimating:
		return "estimating"
	case Reducing:
		return "reducing"
	case CallingProvider:
		return "calling_provider"
	case Appending:
		return "appending"
	case Persisting:
		return "persisting"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultRateLimitWait is the pause before retrying a rate-limited call.
const DefaultRateLimitWait = 10 * time.Second

// Options tune a Session. Zero values get defaults from New.
type Options struct {
	Model         string
	TokenLimit    int
	SaveThreshold float64
	RateLimitWait time.Duration
	Prompts       Prompts
}

// Session owns one conversation. It is not safe for concurrent use; the
// IO may call back from other goroutines only through LoopCanceller.
type Session struct {
	provider provider.Provider
	acct     *budget.Accountant
	reducer  *budget.Reducer
	store    session.Store
	io       tui.IO
	log      *zap.Logger
	opts     Options

	conv   provider.Conversation
	budget *budget.TokenBudget
	name   string
	state  State
}

// New creates a Session with an empty conversation. store may be nil, in
// which case nothing is persisted.
func New(p provider.Provider, acct *budget.Accountant, store session.Store, ui tui.IO, log *zap.Logger, opts Options) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = p.DefaultModel()
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = DefaultRateLimitWait
	}
	if opts.SaveThreshold == 0 {
		opts.SaveThreshold = 0.1
	}
	if opts.Prompts == (Prompts{}) {
		opts.Prompts = LoadPrompts("")
	}
	return &Session{
		provider: p,
		acct:     acct,
		reducer:  budget.NewReducer(acct, log.Named("reducer")),
		store:    store,
		io:       ui,
		log:      log,
		opts:     opts,
		budget:   budget.NewTokenBudget(opts.TokenLimit),
		state:    AwaitingInput,
	}
}

// StartNew begins a fresh, unnamed conversation holding only the system
// prompt.
func (s *Session) StartNew() {
	s.conv = provider.Conversation{provider.SystemMessage(s.opts.Prompts.System)}
	s.name = ""
	s.budget.TotalUsage = s.acct.Count(s.conv)
	s.io.SetTokens(s.budget.TotalUsage, s.budget.TokenLimit)
}

// Resume continues a saved conversation under its stored name.
func (s *Session) Resume(name string, conv provider.Conversation) {
	s.conv = conv.Clone()
	s.name = name
	s.budget.TotalUsage = s.acct.Count(s.conv)
	s.io.SetTokens(s.budget.TotalUsage, s.budget.TokenLimit)
}

// Conversation returns a copy of the current conversation.
func (s *Session) Conversation() provider.Conversation { return s.conv.Clone() }

// Name is the storage name, empty until the conversation is saved.
func (s *Session) Name() string { return s.name }

// Usage returns the provider-reported (or estimated) usage and the limit.
func (s *Session) Usage() (used, limit int) { return s.budget.TotalUsage, s.budget.TokenLimit }

func (s *Session) State() State { return s.state }

func (s *Session) setState(st State) {
	s.state = st
	s.log.Debug("state", zap.Stringer("state", st))
}

// Run starts the interactive loop. It returns nil when the user exits.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.setState(AwaitingInput)
		input, err := s.io.ReadInput()
		if errors.Is(err, io.EOF) {
			s.setState(Exit)
			return nil
		}
		if err != nil {
			return err
		}
		if input == "" {
			continue
		}
		if isExit(input) {
			s.setState(Exit)
			return nil
		}

		// Slash commands are intercepted before sending to the model.
		if strings.HasPrefix(input, "/") {
			handled, shouldQuit := s.handleSlashCommand(ctx, input)
			if shouldQuit {
				s.setState(Exit)
				return nil
			}
			if handled {
				continue
			}
		}

		turnCtx, cancel := context.WithCancel(ctx)
		lc, canCancel := s.io.(tui.LoopCanceller)
		if canCancel {
			lc.SetLoopCancel(cancel)
		}
		err = s.Turn(turnCtx, input)
		if canCancel {
			lc.ClearLoopCancel()
		}
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Debug("turn failed", zap.Error(err))
		}
	}
}

// Turn sends one user message and appends the reply. Every failure is
// already shown on the IO when Turn returns; the error is for the caller's
// bookkeeping. A cancelled turn returns nil and keeps the user message.
func (s *Session) Turn(ctx context.Context, input string) error {
	s.setState(Estimating)
	s.io.UserMessage(input)
	s.conv = append(s.conv, provider.UserMessage(input))

	usage := s.acct.Count(s.conv)
	s.budget.TotalUsage = usage
	if budget.Exceeding(usage, s.budget.TokenLimit) {
		s.setState(Reducing)
		reduced, newUsage, err := s.reducer.Reduce(s.conv, usage, s.budget.TokenLimit)
		if err != nil {
			return s.abandonTurn(err)
		}
		if !endsWithUser(reduced) {
			return s.abandonTurn(budget.ErrReductionExhausted)
		}
		s.log.Debug("conversation reduced",
			zap.Int("before", usage),
			zap.Int("after", newUsage),
			zap.Int("dropped", len(s.conv)-len(reduced)))
		s.conv, s.budget.TotalUsage = reduced, newUsage
	}

	s.setState(CallingProvider)
	reply, sent, err := s.complete(ctx, s.conv)
	if sent != nil {
		// Messages dropped for context overflow stay dropped.
		s.conv = sent
	}
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.io.SystemMessage(stoppedMessage())
		s.setState(AwaitingInput)
		return nil
	case errors.Is(err, budget.ErrReductionExhausted):
		return s.abandonTurn(err)
	case err != nil:
		s.io.Error(err.Error())
		s.setState(AwaitingInput)
		return err
	}

	s.setState(Appending)
	s.conv = append(s.conv, provider.AssistantMessage(reply.Content))
	counted := s.acct.Count(s.conv)
	if total := reply.Usage.Total(); total > 0 {
		s.budget.TotalUsage = total
	} else {
		s.budget.TotalUsage = counted
	}
	s.io.SetTokens(s.budget.TotalUsage, s.budget.TokenLimit)
	s.log.Debug("usage",
		zap.Int("api_total", reply.Usage.Total()),
		zap.Int("counted", counted),
		zap.Int("limit", s.budget.TokenLimit))

	s.setState(Persisting)
	s.persist(ctx)
	s.setState(AwaitingInput)
	return nil
}

// endsWithUser reports whether the newest message is a user turn, i.e. there
// is still something for the model to answer.
func endsWithUser(conv provider.Conversation) bool {
	return len(conv) > 0 && conv[len(conv)-1].Role == provider.RoleUser
}

// abandonTurn removes the user message that could not be sent.
func (s *Session) abandonTurn(err error) error {
	if n := len(s.conv); n > 0 && s.conv[n-1].Role == provider.RoleUser {
		s.conv = s.conv[:n-1]
	}
	s.budget.TotalUsage = s.acct.Count(s.conv)
	s.io.Error(fmt.Sprintf("%v: shorten your message or raise the token limit", err))
	s.setState(AwaitingInput)
	return err
}
