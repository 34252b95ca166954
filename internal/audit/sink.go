// Package audit copies user requests to the admin chat on a best-effort
// basis. Failures never surface to any user path.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/tritikalab/supportbot/internal/channel"
)

// previewRunes bounds the quoted user text in the audit copy.
const previewRunes = 200

// Sink posts audit lines to the admin chat. A zero admin chat ID disables
// it entirely.
type Sink struct {
	logger      *slog.Logger
	sender      channel.Sender
	adminChatID int64
}

// NewSink creates a Sink delivering through sender.
func NewSink(log *slog.Logger, sender channel.Sender, adminChatID int64) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		logger:      log.With(slog.String("component", "audit")),
		sender:      sender,
		adminChatID: adminChatID,
	}
}

// Log sends an audit line about a user request. Errors are logged at warn
// and swallowed; the caller's path must never block on auditing.
func (s *Sink) Log(ctx context.Context, who channel.Identity, text string) {
	if s.adminChatID == 0 {
		return
	}
	line := fmt.Sprintf("📨 Запрос от %s (ID: %d):\n%s", who.FirstName, who.UserID, preview(text))
	if _, err := s.sender.SendText(ctx, s.adminChatID, line, nil); err != nil {
		s.logger.Warn("audit send failed", slog.Any("error", err))
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes])
}
