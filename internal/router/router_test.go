package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tritikalab/supportbot/internal/channel"
	"github.com/tritikalab/supportbot/internal/relay"
	"github.com/tritikalab/supportbot/internal/session"
)

const managerChat = int64(-500)

type sentText struct {
	ChatID int64
	ID     int64
	Text   string
	Kb     channel.Keyboard
}

type sentDoc struct {
	ChatID int64
	ID     int64
	Doc    channel.Document
}

type fakeSender struct {
	mu          sync.Mutex
	nextID      int64
	texts       []sentText
	docs        []sentDoc
	typing      []int64
	callbacks   []string
	failTextFor map[int64]error
	failDocFor  map[int64]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		nextID:      1000,
		failTextFor: map[int64]error{},
		failDocFor:  map[int64]error{},
	}
}

func (s *fakeSender) SendText(_ context.Context, chatID int64, text string, kb channel.Keyboard) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failTextFor[chatID]; err != nil {
		return 0, err
	}
	s.nextID++
	s.texts = append(s.texts, sentText{ChatID: chatID, ID: s.nextID, Text: text, Kb: kb})
	return s.nextID, nil
}

func (s *fakeSender) SendDocument(_ context.Context, chatID int64, doc channel.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failDocFor[chatID]; err != nil {
		return 0, err
	}
	s.nextID++
	s.docs = append(s.docs, sentDoc{ChatID: chatID, ID: s.nextID, Doc: doc})
	return s.nextID, nil
}

func (s *fakeSender) SendTyping(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, chatID)
	return nil
}

func (s *fakeSender) AnswerCallback(_ context.Context, callbackID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callbackID)
	return nil
}

func (s *fakeSender) textsTo(chatID int64) []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentText
	for _, m := range s.texts {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSender) lastTextTo(t *testing.T, chatID int64) sentText {
	t.Helper()
	msgs := s.textsTo(chatID)
	require.NotEmpty(t, msgs, "expected a message to chat %d", chatID)
	return msgs[len(msgs)-1]
}

type fakeResolver struct {
	data map[string][]byte
	err  error
}

func (r *fakeResolver) ResolveAttachment(_ context.Context, att channel.Attachment) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.data[att.FileID], nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	fn      func(prompt string) (string, error)
	prompts []string
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return "ответ", nil
	}
	return fn(prompt)
}

func (c *fakeCompleter) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *fakeAuditor) Log(_ context.Context, who channel.Identity, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, fmt.Sprintf("%d:%s", who.UserID, text))
}

type fixture struct {
	router    *Router
	sender    *fakeSender
	resolver  *fakeResolver
	completer *fakeCompleter
	auditor   *fakeAuditor
	sessions  *session.Store
	relays    *relay.Table
	extracted func(data []byte, filename string) (string, error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:    newFakeSender(),
		resolver:  &fakeResolver{data: map[string][]byte{}},
		completer: &fakeCompleter{},
		auditor:   &fakeAuditor{},
		sessions:  session.NewStore(),
		relays:    relay.NewTable(nil, 0),
	}
	extractor := func(data []byte, filename string) (string, error) {
		if f.extracted != nil {
			return f.extracted(data, filename)
		}
		return string(data), nil
	}
	f.router = New(
		nil,
		f.sessions,
		f.relays,
		f.sender,
		f.resolver,
		f.completer,
		extractor,
		f.auditor,
		PriceTexts{
			MainServices: func() string { return "прайс основных услуг" },
			ECP:          func() string { return "прайс ЭЦП" },
		},
		managerChat,
	)
	return f
}

func (f *fixture) handle(ev channel.Event) {
	f.router.Handle(context.Background(), ev)
	f.router.WaitIdle()
}

func userEvent(kind channel.EventKind, userID int64) channel.Event {
	return channel.Event{
		Kind:   kind,
		ChatID: userID,
		Sender: channel.Identity{UserID: userID, FirstName: "Анна", Username: "anna"},
	}
}

func TestStartShowsMainMenu(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.handle(userEvent(channel.EventStart, 1))

	assert.Equal(t, session.ModeMainMenu, f.sessions.Get(1))
	msg := f.sender.lastTextTo(t, 1)
	assert.Equal(t, msgWelcome, msg.Text)
	assert.Len(t, msg.Kb, 3, "main menu has three rows")
}

func TestTalkToManagerEntersHandoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ev := userEvent(channel.EventMenu, 1)
	ev.MenuSelect = MenuManualMode
	ev.CallbackID = "cb-1"
	f.handle(ev)

	assert.Equal(t, session.ModeManualHandoff, f.sessions.Get(1))
	require.Equal(t, 1, f.relays.Len(), "exactly one pending relay for the notification")

	notif := f.sender.lastTextTo(t, managerChat)
	assert.Contains(t, notif.Text, "Анна (@anna, ID: 1)")

	userID, ok := f.relays.Consume(notif.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), userID)

	confirmation := f.sender.lastTextTo(t, 1)
	assert.Equal(t, msgManualActivated, confirmation.Text)
	assert.Len(t, confirmation.Kb, 1, "back keyboard only")
	assert.Equal(t, []string{"cb-1"}, f.sender.callbacks)
}

func TestManagerNotifyFailureKeepsMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sender.failTextFor[managerChat] = errors.New("network down")

	ev := userEvent(channel.EventMenu, 1)
	ev.MenuSelect = MenuManualMode
	f.handle(ev)

	assert.Equal(t, session.ModeMainMenu, f.sessions.Get(1), "mode must not flip on failed notify")
	assert.Equal(t, 0, f.relays.Len(), "no half-recorded relay")
	assert.Equal(t, msgManagerUnreached, f.sender.lastTextTo(t, 1).Text)
}

func TestHandoffRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.handle(userEvent(channel.EventStart, 1))
	assert.Equal(t, session.ModeMainMenu, f.sessions.Get(1))

	menu := userEvent(channel.EventMenu, 1)
	menu.MenuSelect = MenuManualMode
	f.handle(menu)
	require.Equal(t, 1, f.relays.Len())
	notifID := f.sender.lastTextTo(t, managerChat).ID

	text := userEvent(channel.EventText, 1)
	text.Text = "hello"
	f.handle(text)

	forwarded := f.sender.lastTextTo(t, managerChat)
	assert.Contains(t, forwarded.Text, "hello")
	assert.Contains(t, forwarded.Text, "Анна (@anna, ID: 1)")
	require.Equal(t, 2, f.relays.Len(), "notification and forwarded message both live")
	assert.Equal(t, msgForwardedAck, f.sender.lastTextTo(t, 1).Text)

	reply := channel.Event{
		Kind:               channel.EventManagerReply,
		ChatID:             managerChat,
		Sender:             channel.Identity{UserID: 99, FirstName: "Олег"},
		Text:               "hi there",
		RepliedToMessageID: forwarded.ID,
	}
	f.handle(reply)

	delivered := f.sender.lastTextTo(t, 1)
	assert.Equal(t, fmt.Sprintf(fmtManagerReply, "hi there"), delivered.Text)
	assert.Equal(t, msgReplyDelivered, f.sender.lastTextTo(t, managerChat).Text)
	assert.Equal(t, 1, f.relays.Len(), "forwarded entry consumed, notification entry remains")

	_, ok := f.relays.Consume(forwarded.ID)
	assert.False(t, ok, "forwarded relay already consumed")
	userID, ok := f.relays.Consume(notifID)
	require.True(t, ok)
	assert.Equal(t, int64(1), userID)
}

func TestMainMenuTextGoesToCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.completer.fn = func(string) (string, error) { return "X", nil }

	ev := userEvent(channel.EventText, 2)
	ev.Text = "what are your prices"
	f.handle(ev)

	assert.Equal(t, []string{"what are your prices"}, f.completer.calls(), "raw text is the prompt")
	assert.Equal(t, []int64{2}, f.sender.typing)
	assert.Equal(t, []string{"2:what are your prices"}, f.auditor.entries)

	msgs := f.sender.textsTo(2)
	require.Len(t, msgs, 2)
	assert.Equal(t, msgProcessing, msgs[0].Text)
	assert.Equal(t, "X", msgs[1].Text)
	assert.Len(t, msgs[1].Kb, 3, "result carries the main menu")
	assert.Equal(t, 0, f.relays.Len(), "no relay for completion traffic")
}

func TestCompletionFailureIsReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.completer.fn = func(string) (string, error) { return "", errors.New("backend down") }

	ev := userEvent(channel.EventText, 2)
	ev.Text = "hi"
	f.handle(ev)

	last := f.sender.lastTextTo(t, 2)
	assert.Equal(t, msgCompletionFailed, last.Text)
	assert.Len(t, last.Kb, 3, "failure still restores the main menu")
}

func TestUnresolvedManagerReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reply := channel.Event{
		Kind:               channel.EventManagerReply,
		ChatID:             managerChat,
		Text:               "who was this for?",
		RepliedToMessageID: 12345,
	}
	f.handle(reply)

	assert.Equal(t, msgReplyUnresolved, f.sender.lastTextTo(t, managerChat).Text)
	for _, m := range f.sender.texts {
		assert.Equal(t, managerChat, m.ChatID, "no end user may receive anything")
	}
}

func TestBackToMenuResetsMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sessions.Set(1, session.ModeManualHandoff)

	ev := userEvent(channel.EventMenu, 1)
	ev.MenuSelect = MenuBack
	f.handle(ev)

	assert.Equal(t, session.ModeMainMenu, f.sessions.Get(1))
	msg := f.sender.lastTextTo(t, 1)
	assert.Equal(t, msgMainMenu, msg.Text)
	assert.Len(t, msg.Kb, 3)
}

func TestPriceMenusKeepMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sessions.Set(1, session.ModeManualHandoff)

	for selection, want := range map[string]string{
		MenuPriceMain: "прайс основных услуг",
		MenuPriceECP:  "прайс ЭЦП",
	} {
		ev := userEvent(channel.EventMenu, 1)
		ev.MenuSelect = selection
		f.handle(ev)
		assert.Equal(t, want, f.sender.lastTextTo(t, 1).Text)
	}
	assert.Equal(t, session.ModeManualHandoff, f.sessions.Get(1), "price browsing never changes mode")
}

func TestAttachmentForwardedInHandoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sessions.Set(1, session.ModeManualHandoff)
	f.resolver.data["file-1"] = []byte("raw bytes")

	ev := userEvent(channel.EventAttachment, 1)
	ev.Attachment = &channel.Attachment{FileID: "file-1", Name: "смета.pdf"}
	f.handle(ev)

	require.Len(t, f.sender.docs, 1)
	doc := f.sender.docs[0]
	assert.Equal(t, managerChat, doc.ChatID)
	assert.Equal(t, "смета.pdf", doc.Doc.Name)
	assert.Equal(t, []byte("raw bytes"), doc.Doc.Data)
	assert.Contains(t, doc.Doc.Caption, "Анна (@anna, ID: 1)")

	userID, ok := f.relays.Consume(doc.ID)
	require.True(t, ok, "forwarded document is a tracked relay")
	assert.Equal(t, int64(1), userID)
	assert.Equal(t, msgFileForwardedAck, f.sender.lastTextTo(t, 1).Text)
}

func TestAttachmentResolveFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.err = errors.New("gone")

	ev := userEvent(channel.EventAttachment, 1)
	ev.Attachment = &channel.Attachment{FileID: "file-1", Name: "x.pdf"}
	f.handle(ev)

	assert.Equal(t, msgAttachmentFailed, f.sender.lastTextTo(t, 1).Text)
	assert.Empty(t, f.completer.calls(), "no completion on resolve failure")
}

func TestEmptyExtractionShortCircuits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.data["file-1"] = []byte("binary")
	f.extracted = func([]byte, string) (string, error) { return "   \n", nil }

	ev := userEvent(channel.EventAttachment, 1)
	ev.Attachment = &channel.Attachment{FileID: "file-1", Name: "scan.pdf"}
	f.handle(ev)

	assert.Equal(t, msgExtractFailed, f.sender.lastTextTo(t, 1).Text)
	assert.Empty(t, f.completer.calls(), "whitespace-only extraction must not reach the backend")
}

func TestAttachmentAnalysis(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.data["file-1"] = []byte("условия закупки")
	f.completer.fn = func(prompt string) (string, error) {
		if !strings.Contains(prompt, "условия закупки") {
			return "", errors.New("prompt missing document text")
		}
		return "анализ готов", nil
	}

	ev := userEvent(channel.EventAttachment, 1)
	ev.Attachment = &channel.Attachment{FileID: "file-1", Name: "докс.txt"}
	f.handle(ev)

	calls := f.completer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, fmt.Sprintf(fmtAnalysis, "условия закупки"), calls[0])
	assert.Equal(t, "анализ готов", f.sender.lastTextTo(t, 1).Text)
}

func TestNilAuditorIsAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.router.audit = nil

	ev := userEvent(channel.EventText, 2)
	ev.Text = "hi"
	f.handle(ev)

	assert.NotEmpty(t, f.sender.textsTo(2))
}
