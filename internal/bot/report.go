package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gkorepanov/barrier-bot/internal/telegram"
)

const dumpTextLimit = 50

// reportFailure handles a handler error: the user gets a short generic
// notice carrying the error id, the admin chat gets the full dump. Neither
// path may raise; reporting failures are logged and swallowed so one broken
// update cannot take the loop down.
func (b *Bot) reportFailure(ctx context.Context, u telegram.Update, handlerErr error) {
	errorID := uuid.NewString()
	b.logger.Error("update_failed",
		"error_id", errorID,
		"update_id", u.UpdateID,
		"error", handlerErr.Error(),
	)

	if chatID := updateChatID(u); chatID != 0 {
		notice := fmt.Sprintf("Something went wrong. Error id: <code>%s</code>", errorID)
		if _, err := b.dispatcher.Send(ctx, chatID, notice, telegram.SendOptions{RichFormatting: true}); err != nil {
			b.logger.Warn("user_notice_failed", "error_id", errorID, "error", err.Error())
		}
	}

	if b.cfg.AdminChatID == 0 {
		return
	}
	report := buildErrorReport(errorID, u, handlerErr)
	_, err := b.dispatcher.SendChunked(ctx, b.cfg.AdminChatID, report, telegram.SendOptions{
		RichFormatting: true,
		// The admin chat is the channel of last resort; a permission failure
		// there must surface in the logs, not vanish.
		FailOnForbidden: true,
	})
	if err != nil {
		b.logger.Warn("admin_report_failed", "error_id", errorID, "error", err.Error())
	}
}

func buildErrorReport(errorID string, u telegram.Update, handlerErr error) string {
	from, chatID := updateActor(u)
	var userLine string
	if from != nil {
		userLine = fmt.Sprintf("\n ⤷ user: <code>%d</code> @%s", from.ID, html.EscapeString(from.Username))
	}
	return fmt.Sprintf(
		"<b>🚨 Error while handling an update:</b>\n"+
			" ⤷ error_id: <code>%s</code>\n"+
			" ⤷ chat_id: <code>%d</code>%s\n\n"+
			"<pre>update = %s</pre>\n\n"+
			"<pre>%s</pre>",
		errorID, chatID, userLine,
		html.EscapeString(dumpUpdate(u)),
		html.EscapeString(handlerErr.Error()),
	)
}

// dumpUpdate renders the update as JSON with long text fields truncated so
// the report stays about the error, not the payload.
func dumpUpdate(u telegram.Update) string {
	if u.Message != nil {
		msg := *u.Message
		msg.Text = truncate(msg.Text, dumpTextLimit)
		u.Message = &msg
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		cq := *u.CallbackQuery
		msg := *cq.Message
		msg.Text = truncate(msg.Text, dumpTextLimit)
		cq.Message = &msg
		u.CallbackQuery = &cq
	}
	raw, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Sprintf("update_id=%d (marshal failed: %v)", u.UpdateID, err)
	}
	return string(raw)
}

// truncate cuts on a character boundary so the dump stays valid UTF-8.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

func updateChatID(u telegram.Update) int64 {
	_, chatID := updateActor(u)
	return chatID
}

func updateActor(u telegram.Update) (*telegram.User, int64) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message != nil && cq.Message.Chat != nil {
			return cq.From, cq.Message.Chat.ID
		}
		if cq.From != nil {
			return cq.From, cq.From.ID
		}
		return nil, 0
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.From, u.Message.Chat.ID
	default:
		return nil, 0
	}
}
