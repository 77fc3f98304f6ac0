package chat

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/termgpt/termgpt/internal/budget"
	"github.com/termgpt/termgpt/internal/provider"
	"github.com/termgpt/termgpt/internal/session"
	"github.com/termgpt/termgpt/internal/tui"
)

// ── fakes ──

// wordTokenizer makes one token per whitespace-prefixed word.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

var wordPattern = regexp.MustCompile(`\s*\S+|\s+`)

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ids == nil {
		w.ids = make(map[string]int)
	}
	var out []int
	for _, piece := range wordPattern.FindAllString(text, -1) {
		id, ok := w.ids[piece]
		if !ok {
			id = len(w.words)
			w.ids[piece] = id
			w.words = append(w.words, piece)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var sb strings.Builder
	for _, id := range tokens {
		sb.WriteString(w.words[id])
	}
	return sb.String()
}

// step is one scripted provider response.
type step struct {
	text  string
	usage provider.Usage
	err   error
	block bool // wait for cancellation
}

type fakeProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []provider.Conversation
	started  chan struct{}
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan provider.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req.Messages.Clone())
	st := step{text: "ok"}
	if len(f.steps) > 0 {
		st = f.steps[0]
		f.steps = f.steps[1:]
	}
	f.mu.Unlock()

	ch := make(chan provider.Event, 4)
	go func() {
		defer close(ch)
		switch {
		case st.block:
			close(f.started)
			<-ctx.Done()
			ch <- provider.Event{Type: provider.EventError, Error: ctx.Err()}
		case st.err != nil:
			ch <- provider.Event{Type: provider.EventError, Error: st.err}
		default:
			ch <- provider.Event{Type: provider.EventTextDelta, TextDelta: st.text}
			u := st.usage
			ch <- provider.Event{Type: provider.EventDone, Usage: &u}
		}
	}()
	return ch, nil
}

func (f *fakeProvider) Requests() []provider.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type testEnv struct {
	sess  *Session
	prov  *fakeProvider
	io    *tui.BufferIO
	store session.Store
	acct  *budget.Accountant
}

func newTestEnv(t *testing.T, limit int, steps []step, inputs ...string) *testEnv {
	t.Helper()
	store, err := session.NewFileStore(filepath.Join(t.TempDir(), "conversations"))
	if err != nil {
		t.Fatal(err)
	}
	prov := &fakeProvider{steps: steps}
	ui := tui.NewBufferIO(inputs...)
	acct := budget.NewAccountant(&wordTokenizer{})
	sess := New(prov, acct, store, ui, zap.NewNop(), Options{
		TokenLimit:    limit,
		RateLimitWait: time.Millisecond,
		Prompts: Prompts{
			System:      "be brief",
			Welcome:     "say welcome",
			WelcomeBack: "say welcome back",
			Title:       "give a title",
		},
	})
	sess.StartNew()
	return &testEnv{sess: sess, prov: prov, io: ui, store: store, acct: acct}
}

// ── turns ──

func TestTurnAppendsReply(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "hi there", usage: provider.Usage{PromptTokens: 30, CompletionTokens: 12}}})

	if err := env.sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	conv := env.sess.Conversation()
	if len(conv) != 3 || conv[1].Content != "hello" || conv[2].Role != provider.RoleAssistant || conv[2].Content != "hi there" {
		t.Fatalf("conversation = %+v", conv)
	}
	if used, _ := env.sess.Usage(); used != 42 {
		t.Errorf("usage = %d, want provider total 42", used)
	}
	if used, limit := env.io.Tokens(); used != 42 || limit != 1000 {
		t.Errorf("IO tokens = %d/%d", used, limit)
	}
	if replies := env.io.Replies(); len(replies) != 1 || replies[0] != "hi there" {
		t.Errorf("replies = %v", replies)
	}
	if env.sess.State() != AwaitingInput {
		t.Errorf("state = %s", env.sess.State())
	}
}

func TestTurnFallsBackToCountedUsage(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "hi"}})
	if err := env.sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	want := env.acct.Count(env.sess.Conversation())
	if used, _ := env.sess.Usage(); used != want {
		t.Errorf("usage = %d, want counted %d", used, want)
	}
}

func TestTurnReducesBeforeSending(t *testing.T) {
	const limit = 40
	env := newTestEnv(t, limit, nil)
	env.sess.Resume("", provider.Conversation{
		provider.SystemMessage("be brief"),
		provider.UserMessage("one two three four five six seven eight"),
		provider.AssistantMessage("nine ten eleven twelve thirteen fourteen"),
		provider.UserMessage("fifteen sixteen seventeen"),
		provider.AssistantMessage("eighteen nineteen twenty"),
	})

	if err := env.sess.Turn(context.Background(), "what now"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	reqs := env.prov.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	sent := reqs[0]
	if n := env.acct.Count(sent); n > limit {
		t.Errorf("sent %d tokens, limit %d", n, limit)
	}
	if sent[0].Content != "be brief" {
		t.Errorf("system prompt not preserved: %+v", sent[0])
	}
	if last := sent[len(sent)-1]; last.Content != "what now" {
		t.Errorf("latest user message missing: %+v", last)
	}
}

func TestTurnReductionExhausted(t *testing.T) {
	env := newTestEnv(t, 4, nil)

	err := env.sess.Turn(context.Background(), "this message is far too long for the limit")
	if !errors.Is(err, budget.ErrReductionExhausted) {
		t.Fatalf("err = %v, want ErrReductionExhausted", err)
	}
	if conv := env.sess.Conversation(); len(conv) != 1 || conv[0].Role != provider.RoleSystem {
		t.Errorf("unsendable user turn kept: %+v", conv)
	}
	if len(env.prov.Requests()) != 0 {
		t.Error("provider called for an unsendable conversation")
	}
	if len(env.io.Errors()) != 1 {
		t.Errorf("errors = %v", env.io.Errors())
	}
}

func TestTurnInputConsumedByReduction(t *testing.T) {
	// Trimming "x y z" lands exactly on the limit with nothing left to
	// answer; the turn must not reach the provider.
	env := newTestEnv(t, 10, nil)

	err := env.sess.Turn(context.Background(), "x y z")
	if !errors.Is(err, budget.ErrReductionExhausted) {
		t.Fatalf("err = %v, want ErrReductionExhausted", err)
	}
	if n := len(env.prov.Requests()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
	if conv := env.sess.Conversation(); len(conv) != 1 || conv[0].Role != provider.RoleSystem {
		t.Errorf("conversation = %+v, want only the system prompt", conv)
	}
	if len(env.io.Errors()) != 1 {
		t.Errorf("errors = %v, want one", env.io.Errors())
	}
	if names, _ := session.Names(env.store); len(names) != 0 {
		t.Errorf("saved %v", names)
	}
}

func TestTurnRetriesRateLimit(t *testing.T) {
	env := newTestEnv(t, 1000, []step{
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
		{text: "finally"},
	})

	if err := env.sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if n := len(env.prov.Requests()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
	reqs := env.prov.Requests()
	if len(reqs[0]) != len(reqs[2]) {
		t.Error("rate-limited request was not retried unchanged")
	}
	if n := len(env.io.Errors()); n != 2 {
		t.Errorf("errors shown = %d, want 2", n)
	}
	conv := env.sess.Conversation()
	if conv[len(conv)-1].Content != "finally" {
		t.Errorf("last message = %+v", conv[len(conv)-1])
	}
}

func TestTurnDropsOldestOnContextOverflow(t *testing.T) {
	env := newTestEnv(t, 1000, []step{
		{err: provider.ErrContextLengthExceeded},
		{text: "answer"},
	})
	env.sess.Resume("", provider.Conversation{
		provider.SystemMessage("be brief"),
		provider.UserMessage("u1"),
		provider.AssistantMessage("a1"),
	})

	if err := env.sess.Turn(context.Background(), "u2"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	reqs := env.prov.Requests()
	if len(reqs) != 2 || len(reqs[0]) != 4 || len(reqs[1]) != 3 {
		t.Fatalf("request sizes = %v", lens(reqs))
	}
	if reqs[1][1].Content != "a1" {
		t.Errorf("wrong message dropped: %+v", reqs[1])
	}
	got := contents(env.sess.Conversation())
	want := []string{"be brief", "a1", "u2", "answer"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("conversation = %v, want %v", got, want)
	}
}

func TestTurnContextOverflowExhausted(t *testing.T) {
	env := newTestEnv(t, 1000, []step{
		{err: provider.ErrContextLengthExceeded},
		{err: provider.ErrContextLengthExceeded},
		{err: provider.ErrContextLengthExceeded},
	})
	env.sess.Resume("", provider.Conversation{
		provider.SystemMessage("be brief"),
		provider.UserMessage("u1"),
	})

	err := env.sess.Turn(context.Background(), "u2")
	if !errors.Is(err, budget.ErrReductionExhausted) {
		t.Fatalf("err = %v, want ErrReductionExhausted", err)
	}
	if conv := env.sess.Conversation(); len(conv) != 1 {
		t.Errorf("conversation = %+v, want only the system prompt", conv)
	}
}

func TestTurnCancelled(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{block: true}})
	env.prov.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-env.prov.started
		cancel()
	}()

	if err := env.sess.Turn(ctx, "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	conv := env.sess.Conversation()
	if len(conv) != 2 || conv[1].Content != "hello" {
		t.Errorf("conversation = %+v, want user turn kept without a reply", conv)
	}
	msgs := env.io.SystemMessages()
	if len(msgs) != 1 || !isStoppedMessage(msgs[0]) {
		t.Errorf("system messages = %v", msgs)
	}
}

func TestTurnProviderError(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{err: &provider.Error{Provider: "fake", StatusCode: 401, Message: "bad key"}}})

	err := env.sess.Turn(context.Background(), "hello")
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *provider.Error", err)
	}
	if len(env.io.Errors()) != 1 || !strings.Contains(env.io.Errors()[0], "bad key") {
		t.Errorf("errors = %v", env.io.Errors())
	}
	if n := len(env.prov.Requests()); n != 1 {
		t.Errorf("requests = %d, want no retry", n)
	}
}

// ── persistence ──

func TestPersistAfterThreshold(t *testing.T) {
	env := newTestEnv(t, 1000, []step{
		{text: "short", usage: provider.Usage{TotalTokens: 50}},
		{text: "longer", usage: provider.Usage{TotalTokens: 150}},
		{text: "Go Channels Explained"},
		{text: "more", usage: provider.Usage{TotalTokens: 170}},
	})
	ctx := context.Background()

	if err := env.sess.Turn(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if names, _ := session.Names(env.store); len(names) != 0 {
		t.Fatalf("saved below threshold: %v", names)
	}

	if err := env.sess.Turn(ctx, "second"); err != nil {
		t.Fatal(err)
	}
	if env.sess.Name() != "go_channels_explained" {
		t.Fatalf("name = %q", env.sess.Name())
	}
	titleReq := env.prov.Requests()[2]
	if last := titleReq[len(titleReq)-1]; last.Role != provider.RoleSystem || !strings.HasPrefix(last.Content, "give a title") {
		t.Errorf("title request = %+v", last)
	}

	if err := env.sess.Turn(ctx, "third"); err != nil {
		t.Fatal(err)
	}
	saved, err := env.store.Load("go_channels_explained")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 7 {
		t.Errorf("saved %d messages, want 7", len(saved))
	}
	for _, msg := range saved {
		if strings.Contains(msg.Content, "give a title") {
			t.Error("title instruction leaked into the conversation")
		}
	}
}

func TestPersistFallbackName(t *testing.T) {
	env := newTestEnv(t, 100, []step{
		{text: "reply", usage: provider.Usage{TotalTokens: 50}},
		{err: &provider.Error{Provider: "fake", Message: "down"}},
	})
	if err := env.sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(env.sess.Name(), "conversation_") {
		t.Errorf("name = %q, want fallback", env.sess.Name())
	}
	if _, err := env.store.Load(env.sess.Name()); err != nil {
		t.Errorf("conversation not saved: %v", err)
	}
}

// failingStore accepts nothing.
type failingStore struct{}

func (failingStore) Save(string, provider.Conversation) error { return errors.New("disk full") }
func (failingStore) Load(name string) (provider.Conversation, error) {
	return nil, session.ErrNotFound
}
func (failingStore) List() ([]session.Info, error) { return nil, nil }
func (failingStore) Delete(string) error            { return nil }
func (failingStore) Close() error                   { return nil }

func TestPersistFailureIsNotReportedAsSaved(t *testing.T) {
	prov := &fakeProvider{steps: []step{
		{text: "reply", usage: provider.Usage{TotalTokens: 50}},
		{text: "Disk Trouble"},
	}}
	ui := tui.NewBufferIO()
	sess := New(prov, budget.NewAccountant(&wordTokenizer{}), failingStore{}, ui, zap.NewNop(), Options{
		TokenLimit: 100,
		Prompts:    Prompts{System: "be brief", Title: "give a title"},
	})
	sess.StartNew()

	if err := sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	for _, msg := range ui.SystemMessages() {
		if strings.Contains(msg, "saved") {
			t.Errorf("reported %q although the save failed", msg)
		}
	}
	if errs := ui.Errors(); len(errs) != 1 || !strings.Contains(errs[0], "disk full") {
		t.Errorf("errors = %v", errs)
	}
	if sess.Name() != "" {
		t.Errorf("name = %q, want unset after a failed save", sess.Name())
	}
}

func TestNamedConversationSavedEveryTurn(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "hi", usage: provider.Usage{TotalTokens: 1}}})
	env.sess.Resume("old_chat", provider.Conversation{provider.SystemMessage("be brief")})

	if err := env.sess.Turn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	saved, err := env.store.Load("old_chat")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(saved) != 3 {
		t.Errorf("saved %d messages, want 3", len(saved))
	}
}

// ── loop ──

func TestRunLoop(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "hi", usage: provider.Usage{TotalTokens: 20}}},
		"hello", "", "/usage", "/history", "/help", "exit", "never read")

	if err := env.sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if env.sess.State() != Exit {
		t.Errorf("state = %s, want exit", env.sess.State())
	}
	if n := len(env.prov.Requests()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	msgs := strings.Join(env.io.SystemMessages(), "\n")
	for _, want := range []string{"API total usage:     20 tokens", "=== History (3 messages) ===", "/save [name]"} {
		if !strings.Contains(msgs, want) {
			t.Errorf("system messages missing %q:\n%s", want, msgs)
		}
	}
	if in, _ := env.io.ReadInput(); in != "never read" {
		t.Error("input after exit was consumed")
	}
}

func TestRunEndsOnEOF(t *testing.T) {
	env := newTestEnv(t, 1000, nil)
	if err := env.sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if env.sess.State() != Exit {
		t.Errorf("state = %s", env.sess.State())
	}
}

func TestUnknownSlashCommandGoesToModel(t *testing.T) {
	env := newTestEnv(t, 1000, nil, "/etc/hosts is what?")
	if err := env.sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(env.prov.Requests()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestSaveCommand(t *testing.T) {
	env := newTestEnv(t, 1000, nil, "/save My Great Chat")
	if err := env.sess.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.sess.Name() != "my_great_chat" {
		t.Errorf("name = %q", env.sess.Name())
	}
	if _, err := env.store.Load("my_great_chat"); err != nil {
		t.Errorf("Load: %v", err)
	}
}

// ── greetings and one-shot ──

func TestWelcomeIsNotAppended(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "Welcome to termgpt!"}})

	if err := env.sess.Welcome(context.Background()); err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if replies := env.io.Replies(); len(replies) != 1 || replies[0] != "Welcome to termgpt!" {
		t.Errorf("replies = %v", replies)
	}
	if conv := env.sess.Conversation(); len(conv) != 1 {
		t.Errorf("conversation = %+v, want only the system prompt", conv)
	}
	req := env.prov.Requests()[0]
	if len(req) != 2 || req[1].Content != "say welcome" {
		t.Errorf("welcome request = %+v", req)
	}
}

func TestWelcomeBackReducesOversizedConversation(t *testing.T) {
	const limit = 30
	env := newTestEnv(t, limit, []step{{text: "Welcome back!"}})
	env.sess.Resume("old", provider.Conversation{
		provider.SystemMessage("be brief"),
		provider.UserMessage("one two three four five six seven eight nine ten"),
		provider.AssistantMessage("eleven twelve thirteen fourteen fifteen sixteen"),
		provider.UserMessage("seventeen eighteen"),
	})

	if err := env.sess.WelcomeBack(context.Background()); err != nil {
		t.Fatalf("WelcomeBack: %v", err)
	}
	if n := env.acct.Count(env.sess.Conversation()); n > limit {
		t.Errorf("conversation still %d tokens after greeting", n)
	}
	req := env.prov.Requests()[0]
	if last := req[len(req)-1]; last.Content != "say welcome back" {
		t.Errorf("last request message = %+v", last)
	}
	for _, msg := range env.sess.Conversation() {
		if msg.Content == "say welcome back" || msg.Content == "Welcome back!" {
			t.Error("greeting leaked into the conversation")
		}
	}
}

func TestOneShot(t *testing.T) {
	env := newTestEnv(t, 1000, []step{{text: "42"}})
	if err := env.sess.OneShot(context.Background(), "meaning of life?"); err != nil {
		t.Fatalf("OneShot: %v", err)
	}
	req := env.prov.Requests()[0]
	if len(req) != 2 || req[0].Content != "be brief" || req[1].Content != "meaning of life?" {
		t.Errorf("request = %+v", req)
	}
	if env.io.Output() != "42" {
		t.Errorf("output = %q", env.io.Output())
	}
	if names, _ := session.Names(env.store); len(names) != 0 {
		t.Errorf("one-shot persisted %v", names)
	}
}

func TestOneShotQuestionConsumedByReduction(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	err := env.sess.OneShot(context.Background(), "x y z")
	if !errors.Is(err, budget.ErrReductionExhausted) {
		t.Fatalf("err = %v, want ErrReductionExhausted", err)
	}
	if n := len(env.prov.Requests()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestNewDefaultsRateLimitWait(t *testing.T) {
	sess := New(&fakeProvider{}, budget.NewAccountant(&wordTokenizer{}), nil, tui.NewBufferIO(), nil, Options{
		TokenLimit: 100,
		Prompts:    Prompts{System: "be brief"},
	})
	if sess.opts.RateLimitWait != DefaultRateLimitWait {
		t.Errorf("RateLimitWait = %s, want %s", sess.opts.RateLimitWait, DefaultRateLimitWait)
	}
}

// ── helpers ──

func TestIsExit(t *testing.T) {
	for _, in := range []string{"exit", "quit", "/exit", "/quit", "/q", " EXIT "} {
		if !isExit(in) {
			t.Errorf("isExit(%q) = false", in)
		}
	}
	for _, in := range []string{"exiting", "/help", "q"} {
		if isExit(in) {
			t.Errorf("isExit(%q) = true", in)
		}
	}
}

func TestDropOldest(t *testing.T) {
	conv := provider.Conversation{
		provider.SystemMessage("s"),
		provider.UserMessage("u1"),
		provider.UserMessage("u2"),
	}
	out, ok := dropOldest(conv)
	if !ok || len(out) != 2 || out[1].Content != "u2" {
		t.Errorf("dropOldest = %+v, %v", out, ok)
	}
	if len(conv) != 3 {
		t.Error("input modified")
	}
	if _, ok := dropOldest(out); ok {
		t.Error("the newest message must not be dropped")
	}
}

func TestStateString(t *testing.T) {
	if CallingProvider.String() != "calling_provider" || Exit.String() != "exit" {
		t.Error("unexpected state names")
	}
}

func isStoppedMessage(s string) bool {
	for _, m := range stoppedMessages {
		if m == s {
			return true
		}
	}
	return false
}

func lens(reqs []provider.Conversation) []int {
	out := make([]int, len(reqs))
	for i, r := range reqs {
		out[i] = len(r)
	}
	return out
}

func contents(conv provider.Conversation) []string {
	out := make([]string, len(conv))
	for i, m := range conv {
		out[i] = m.Content
	}
	return out
}
