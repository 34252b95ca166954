// Package router is the session-state and message-routing engine. It owns
// the session store and the reply correlation table, inspects every
// inbound event, and dispatches to the manager chat, the completion
// backend, or the menu flow.
//
// All collaborator failures are caught here and converted into a reply to
// whichever party is waiting; nothing propagates into the two tables'
// invariants. A relay is recorded only after the forwarding send
// succeeded.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tritikalab/supportbot/internal/channel"
	"github.com/tritikalab/supportbot/internal/completion"
	"github.com/tritikalab/supportbot/internal/relay"
	"github.com/tritikalab/supportbot/internal/session"
)

// Extractor pulls text out of document bytes. Empty results signal "no
// extractable text" without error.
type Extractor func(data []byte, filename string) (string, error)

// Auditor copies user requests to the admin side, best effort.
type Auditor interface {
	Log(ctx context.Context, who channel.Identity, text string)
}

// PriceTexts supplies the static menu content.
type PriceTexts struct {
	MainServices func() string
	ECP          func() string
}

// Router drives the per-user state machine described in the package
// comment. Create it with New and feed it events through Handle.
type Router struct {
	logger        *slog.Logger
	sessions      *session.Store
	relays        *relay.Table
	sender        channel.Sender
	attachments   channel.AttachmentResolver
	completer     completion.Service
	extract       Extractor
	audit         Auditor
	prices        PriceTexts
	managerChatID int64
	seq           *sequencer
}

// New assembles a Router. All collaborators are required except audit,
// which may be nil to disable the admin copy.
func New(
	log *slog.Logger,
	sessions *session.Store,
	relays *relay.Table,
	sender channel.Sender,
	attachments channel.AttachmentResolver,
	completer completion.Service,
	extract Extractor,
	audit Auditor,
	prices PriceTexts,
	managerChatID int64,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		logger:        log.With(slog.String("component", "router")),
		sessions:      sessions,
		relays:        relays,
		sender:        sender,
		attachments:   attachments,
		completer:     completer,
		extract:       extract,
		audit:         audit,
		prices:        prices,
		managerChatID: managerChatID,
		seq:           newSequencer(),
	}
}

// Handle enqueues the event on the per-chat sequencer and returns
// immediately. Events for one chat run serially in arrival order; events
// for different chats run in parallel.
func (r *Router) Handle(ctx context.Context, ev channel.Event) {
	r.seq.enqueue(ev.ChatID, func() {
		r.process(ctx, ev)
	})
}

// WaitIdle blocks until all queued events have been processed.
func (r *Router) WaitIdle() {
	r.seq.waitIdle()
}

func (r *Router) process(ctx context.Context, ev channel.Event) {
	switch ev.Kind {
	case channel.EventStart:
		r.handleStart(ctx, ev)
	case channel.EventMenu:
		r.handleMenu(ctx, ev)
	case channel.EventText:
		r.handleText(ctx, ev)
	case channel.EventAttachment:
		r.handleAttachment(ctx, ev)
	case channel.EventManagerReply:
		r.handleManagerReply(ctx, ev)
	default:
		r.logger.Warn("unknown event kind", slog.String("kind", string(ev.Kind)))
	}
}

func (r *Router) handleStart(ctx context.Context, ev channel.Event) {
	r.sessions.Set(ev.Sender.UserID, session.ModeMainMenu)
	r.logger.Info("user started bot", slog.Int64("user_id", ev.Sender.UserID))
	r.send(ctx, ev.ChatID, msgWelcome, mainKeyboard())
}

func (r *Router) handleMenu(ctx context.Context, ev channel.Event) {
	switch ev.MenuSelect {
	case MenuPriceMain:
		r.answerCallback(ctx, ev.CallbackID, "")
		r.send(ctx, ev.ChatID, r.prices.MainServices(), mainKeyboard())
	case MenuPriceECP:
		r.answerCallback(ctx, ev.CallbackID, "")
		r.send(ctx, ev.ChatID, r.prices.ECP(), mainKeyboard())
	case MenuManualMode:
		r.enterManualMode(ctx, ev)
	case MenuBack:
		r.sessions.Set(ev.Sender.UserID, session.ModeMainMenu)
		r.answerCallback(ctx, ev.CallbackID, cbBackToMenu)
		r.send(ctx, ev.ChatID, msgMainMenu, mainKeyboard())
	default:
		r.answerCallback(ctx, ev.CallbackID, "")
		r.logger.Warn("unknown menu selection", slog.String("data", ev.MenuSelect))
	}
}

// enterManualMode notifies the manager chat, records the relay for the
// notification, and only then flips the user into handoff mode. A failed
// notification leaves the mode untouched.
func (r *Router) enterManualMode(ctx context.Context, ev channel.Event) {
	userID := ev.Sender.UserID
	notify := fmt.Sprintf(fmtManagerNotify, ev.Sender.Summary())
	sentID, err := r.sender.SendText(ctx, r.managerChatID, notify, nil)
	if err != nil {
		r.logger.Error("manager notify failed", slog.Int64("user_id", userID), slog.Any("error", err))
		r.answerCallback(ctx, ev.CallbackID, "")
		r.send(ctx, ev.ChatID, msgManagerUnreached, mainKeyboard())
		return
	}
	r.relays.Record(sentID, userID)
	r.sessions.Set(userID, session.ModeManualHandoff)
	r.logger.Info("handoff started",
		slog.Int64("user_id", userID),
		slog.Int64("notify_message_id", sentID),
	)
	r.answerCallback(ctx, ev.CallbackID, cbManualActivated)
	r.send(ctx, ev.ChatID, msgManualActivated, backKeyboard())
}

func (r *Router) handleText(ctx context.Context, ev channel.Event) {
	if r.sessions.Get(ev.Sender.UserID) == session.ModeManualHandoff {
		r.forwardText(ctx, ev)
		return
	}
	r.completeText(ctx, ev)
}

func (r *Router) forwardText(ctx context.Context, ev channel.Event) {
	forward := fmt.Sprintf(fmtForwardText, ev.Sender.Summary(), ev.Text)
	sentID, err := r.sender.SendText(ctx, r.managerChatID, forward, nil)
	if err != nil {
		r.logger.Error("forward failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgManagerUnreached, backKeyboard())
		return
	}
	r.relays.Record(sentID, ev.Sender.UserID)
	r.send(ctx, ev.ChatID, msgForwardedAck, backKeyboard())
}

func (r *Router) completeText(ctx context.Context, ev channel.Event) {
	if r.audit != nil {
		r.audit.Log(ctx, ev.Sender, ev.Text)
	}
	if err := r.sender.SendTyping(ctx, ev.ChatID); err != nil {
		r.logger.Debug("typing action failed", slog.Any("error", err))
	}
	r.send(ctx, ev.ChatID, msgProcessing, nil)

	response, err := r.completer.Complete(ctx, ev.Text)
	if err != nil {
		r.logger.Error("completion failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgCompletionFailed, mainKeyboard())
		return
	}
	r.send(ctx, ev.ChatID, response, mainKeyboard())
}

func (r *Router) handleAttachment(ctx context.Context, ev channel.Event) {
	if ev.Attachment == nil {
		r.send(ctx, ev.ChatID, msgAttachmentFailed, nil)
		return
	}
	if r.sessions.Get(ev.Sender.UserID) == session.ModeManualHandoff {
		r.forwardAttachment(ctx, ev)
		return
	}
	r.analyzeAttachment(ctx, ev)
}

func (r *Router) forwardAttachment(ctx context.Context, ev channel.Event) {
	data, err := r.attachments.ResolveAttachment(ctx, *ev.Attachment)
	if err != nil {
		r.logger.Error("attachment resolve failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgAttachmentFailed, backKeyboard())
		return
	}
	doc := channel.Document{
		Name:    ev.Attachment.Name,
		Data:    data,
		Caption: fmt.Sprintf(fmtFileCaption, ev.Sender.Summary()),
	}
	sentID, err := r.sender.SendDocument(ctx, r.managerChatID, doc)
	if err != nil {
		r.logger.Error("document forward failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgManagerUnreached, backKeyboard())
		return
	}
	r.relays.Record(sentID, ev.Sender.UserID)
	r.send(ctx, ev.ChatID, msgFileForwardedAck, backKeyboard())
}

func (r *Router) analyzeAttachment(ctx context.Context, ev channel.Event) {
	r.send(ctx, ev.ChatID, msgAnalyzing, nil)
	data, err := r.attachments.ResolveAttachment(ctx, *ev.Attachment)
	if err != nil {
		r.logger.Error("attachment resolve failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgAttachmentFailed, mainKeyboard())
		return
	}
	text, err := r.extract(data, ev.Attachment.Name)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			r.logger.Warn("extraction failed", slog.String("filename", ev.Attachment.Name), slog.Any("error", err))
		}
		r.send(ctx, ev.ChatID, msgExtractFailed, mainKeyboard())
		return
	}
	response, err := r.completer.Complete(ctx, fmt.Sprintf(fmtAnalysis, text))
	if err != nil {
		r.logger.Error("completion failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		r.send(ctx, ev.ChatID, msgCompletionFailed, mainKeyboard())
		return
	}
	r.send(ctx, ev.ChatID, response, mainKeyboard())
}

// handleManagerReply consumes the relay for the replied-to message. The
// consume is an atomic test-and-delete, so a re-delivered reply event can
// reach the user at most once.
func (r *Router) handleManagerReply(ctx context.Context, ev channel.Event) {
	userID, ok := r.relays.Consume(ev.RepliedToMessageID)
	if !ok {
		r.logger.Warn("unresolved manager reply", slog.Int64("replied_to", ev.RepliedToMessageID))
		r.send(ctx, r.managerChatID, msgReplyUnresolved, nil)
		return
	}
	if _, err := r.sender.SendText(ctx, userID, fmt.Sprintf(fmtManagerReply, ev.Text), nil); err != nil {
		r.logger.Error("reply delivery failed",
			slog.Int64("user_id", userID),
			slog.Int64("replied_to", ev.RepliedToMessageID),
			slog.Any("error", err),
		)
		r.send(ctx, r.managerChatID, msgReplyUndelivered, nil)
		return
	}
	r.logger.Info("manager reply delivered",
		slog.Int64("user_id", userID),
		slog.Int64("replied_to", ev.RepliedToMessageID),
	)
	r.send(ctx, r.managerChatID, msgReplyDelivered, nil)
}

// send delivers text, logging failures. Delivery failures at this level
// have no one left to report to.
func (r *Router) send(ctx context.Context, chatID int64, text string, kb channel.Keyboard) {
	if _, err := r.sender.SendText(ctx, chatID, text, kb); err != nil {
		r.logger.Error("send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (r *Router) answerCallback(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := r.sender.AnswerCallback(ctx, callbackID, text); err != nil {
		r.logger.Debug("answer callback failed", slog.Any("error", err))
	}
}
