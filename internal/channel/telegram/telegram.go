// Package telegram adapts the Telegram Bot API to the channel interfaces.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tritikalab/supportbot/internal/channel"
)

const (
	maxMessageLength = 4096
	// maxDownloadBytes caps attachment downloads; larger files are rejected
	// before extraction ever sees them.
	maxDownloadBytes = 5 * 1024 * 1024
	pollTimeout      = 30
)

// Adapter implements channel.Sender, channel.Receiver, and
// channel.AttachmentResolver on top of the Telegram Bot API.
type Adapter struct {
	logger        *slog.Logger
	bot           *tgbotapi.BotAPI
	managerChatID int64
	httpClient    *http.Client
}

// New connects to the Telegram Bot API with the given token. Messages in
// managerChatID that reply to another message become manager-reply events;
// other traffic from that chat is ignored.
func New(log *slog.Logger, botToken string, managerChatID int64) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	adapter := &Adapter{
		logger:        log.With(slog.String("adapter", "telegram")),
		bot:           bot,
		managerChatID: managerChatID,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter, nil
}

// Run long-polls for updates and hands mapped events to handler, in
// arrival order. If the updates channel terminates it reconnects after an
// exponential backoff (1s doubling to 30s, reset once updates flow again);
// only the connection is recycled, never the caller's state. Run returns
// when ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		updateConfig := tgbotapi.NewUpdate(0)
		updateConfig.Timeout = pollTimeout
		updates := a.bot.GetUpdatesChan(updateConfig)
		a.logger.Info("polling started", slog.String("bot", a.bot.Self.UserName))

	consume:
		for {
			select {
			case <-ctx.Done():
				a.bot.StopReceivingUpdates()
				// Drain so the library's polling goroutine can exit; an
				// in-flight long poll would otherwise keep the getUpdates
				// session alive and conflict with the next start.
				for range updates {
				}
				return ctx.Err()
			case update, ok := <-updates:
				if !ok {
					break consume
				}
				backoff = time.Second
				ev, ok := a.mapUpdate(update)
				if !ok {
					continue
				}
				handler(ctx, ev)
			}
		}

		a.logger.Warn("updates channel closed, reconnecting", slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Adapter) mapUpdate(update tgbotapi.Update) (channel.Event, bool) {
	if cq := update.CallbackQuery; cq != nil && cq.From != nil {
		chatID := cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return channel.Event{
			Kind:       channel.EventMenu,
			ChatID:     chatID,
			Sender:     identityFromUser(cq.From),
			MenuSelect: cq.Data,
			CallbackID: cq.ID,
			ReceivedAt: time.Now().UTC(),
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.Event{}, false
	}
	receivedAt := time.Unix(int64(msg.Date), 0).UTC()

	if msg.Chat.ID == a.managerChatID {
		if msg.ReplyToMessage == nil || strings.TrimSpace(msg.Text) == "" {
			// Manager chatter that replies to nothing is not a relay.
			return channel.Event{}, false
		}
		return channel.Event{
			Kind:               channel.EventManagerReply,
			ChatID:             msg.Chat.ID,
			Sender:             identityFromUser(msg.From),
			Text:               msg.Text,
			RepliedToMessageID: int64(msg.ReplyToMessage.MessageID),
			ReceivedAt:         receivedAt,
		}, true
	}

	base := channel.Event{
		ChatID:     msg.Chat.ID,
		Sender:     identityFromUser(msg.From),
		ReceivedAt: receivedAt,
	}

	if msg.IsCommand() && msg.Command() == "start" {
		base.Kind = channel.EventStart
		return base, true
	}
	if att, ok := pickAttachment(msg); ok {
		base.Kind = channel.EventAttachment
		base.Attachment = &att
		return base, true
	}
	if strings.TrimSpace(msg.Text) != "" {
		base.Kind = channel.EventText
		base.Text = msg.Text
		return base, true
	}
	return channel.Event{}, false
}

func identityFromUser(user *tgbotapi.User) channel.Identity {
	if user == nil {
		return channel.Identity{}
	}
	return channel.Identity{
		UserID:    user.ID,
		FirstName: strings.TrimSpace(user.FirstName),
		Username:  strings.TrimSpace(user.UserName),
	}
}

func pickAttachment(msg *tgbotapi.Message) (channel.Attachment, bool) {
	if msg.Document != nil {
		name := strings.TrimSpace(msg.Document.FileName)
		if name == "" {
			name = "file"
		}
		return channel.Attachment{
			FileID: msg.Document.FileID,
			Name:   name,
			Size:   int64(msg.Document.FileSize),
		}, true
	}
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, item := range msg.Photo[1:] {
			if item.FileSize > best.FileSize {
				best = item
			}
		}
		return channel.Attachment{
			FileID: best.FileID,
			Name:   "photo.jpg",
			Size:   int64(best.FileSize),
		}, true
	}
	return channel.Attachment{}, false
}

// SendText sends HTML-formatted text with an optional inline keyboard and
// returns the platform-assigned message ID.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, kb channel.Keyboard) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	message := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	message.ParseMode = tgbotapi.ModeHTML
	if markup, ok := buildMarkup(kb); ok {
		message.ReplyMarkup = markup
	}
	sent, err := a.bot.Send(message)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return int64(sent.MessageID), nil
}

// SendDocument uploads the document bytes and returns the sent message ID.
func (a *Adapter) SendDocument(ctx context.Context, chatID int64, doc channel.Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "file"
	}
	document := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: doc.Data})
	document.Caption = truncateText(sanitizeText(doc.Caption))
	sent, err := a.bot.Send(document)
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}
	return int64(sent.MessageID), nil
}

// SendTyping fires the "typing" chat action.
func (a *Adapter) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, err := a.bot.Request(action)
	return err
}

// AnswerCallback acknowledges an inline-keyboard press.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := a.bot.Request(callback)
	return err
}

// ResolveAttachment downloads the file behind the attachment reference.
func (a *Adapter) ResolveAttachment(ctx context.Context, att channel.Attachment) ([]byte, error) {
	if att.Size > maxDownloadBytes {
		return nil, fmt.Errorf("attachment too large: %d bytes", att.Size)
	}
	url, err := a.bot.GetFileDirectURL(att.FileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("attachment too large: over %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func buildMarkup(kb channel.Keyboard) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(kb) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// sanitizeText ensures text is valid UTF-8 for the Telegram API.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText truncates to maxMessageLength on a valid UTF-8 rune
// boundary, appending "..." when truncation occurs.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(fmt.Sprintln(v...))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
