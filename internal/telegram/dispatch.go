package telegram

import (
	"context"
	"log/slog"

	"github.com/gkorepanov/barrier-bot/internal/splitter"
)

// Sender is the slice of the client the dispatcher drives. Split out so the
// fallback ladder is testable against a fake transport.
type Sender interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error)
	EditMessageText(ctx context.Context, req EditMessageTextRequest) (*Message, error)
}

// Path says which branch of the fallback ladder produced the outcome.
type Path string

const (
	PathEdited     Path = "edited"
	PathSent       Path = "sent"
	PathNoop       Path = "noop"
	PathSuppressed Path = "suppressed"
)

// Outcome is the single result of one Send: which path was taken and, when
// a message exists, its identity.
type Outcome struct {
	Path      Path
	MessageID int64
}

// SendOptions is the delivery intent for one rendered response.
type SendOptions struct {
	// TryEditMessageID, when set, attempts an in-place edit before any
	// fresh send.
	TryEditMessageID int64
	// ReplyToMessageID, when set, sends fresh messages as a reply.
	ReplyToMessageID int64
	// RichFormatting requests HTML parse mode. A formatting rejection is
	// retried exactly once with formatting stripped.
	RichFormatting bool
	// ReplyMarkup attaches an inline keyboard.
	ReplyMarkup *InlineKeyboardMarkup
	// FailOnForbidden propagates permission failures instead of
	// suppressing them. Admin-chat reporting opts in.
	FailOnForbidden bool
}

// Dispatcher pushes rendered text to a chat through an ordered fallback
// ladder. Every step runs at most once; there is no retry loop and no
// backoff. Ordering is guaranteed per chat only: all steps of one Send run
// sequentially inside the calling task.
type Dispatcher struct {
	sender       Sender
	messageLimit int
	logger       *slog.Logger
}

func NewDispatcher(sender Sender, messageLimit int, logger *slog.Logger) *Dispatcher {
	if messageLimit <= 0 {
		messageLimit = splitter.DefaultMessageLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, messageLimit: messageLimit, logger: logger}
}

// Send executes the fallback ladder for one chunk of text:
//
//  1. edit in place when requested; "message is not modified" is a no-op
//     success, any other edit failure falls through to a fresh send
//  2. a rich-formatted send rejected as malformed is retried once plain
//  3. fresh send, as a reply when requested
//  4. permission failures are suppressed into a success-like outcome unless
//     the caller opted out
//  5. everything else propagates unmodified
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string, opts SendOptions) (Outcome, error) {
	parseMode := ""
	if opts.RichFormatting {
		parseMode = ParseModeHTML
	}

	if opts.TryEditMessageID != 0 {
		msg, err := d.sender.EditMessageText(ctx, EditMessageTextRequest{
			ChatID:                chatID,
			MessageID:             opts.TryEditMessageID,
			Text:                  text,
			ParseMode:             parseMode,
			DisableWebPagePreview: true,
			ReplyMarkup:           opts.ReplyMarkup,
		})
		switch {
		case err == nil:
			return Outcome{Path: PathEdited, MessageID: messageID(msg, opts.TryEditMessageID)}, nil
		case IsNotModifiedError(err):
			return Outcome{Path: PathNoop, MessageID: opts.TryEditMessageID}, nil
		default:
			d.logger.Warn("edit_failed_sending_fresh", "chat_id", chatID,
				"message_id", opts.TryEditMessageID, "error", err.Error())
		}
	}

	req := SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
		ReplyToMessageID:      opts.ReplyToMessageID,
		ReplyMarkup:           opts.ReplyMarkup,
	}
	msg, err := d.sender.SendMessage(ctx, req)
	if err != nil && opts.RichFormatting && IsParseError(err) {
		d.logger.Warn("formatted_send_rejected_retrying_plain", "chat_id", chatID, "error", err.Error())
		req.ParseMode = ""
		msg, err = d.sender.SendMessage(ctx, req)
	}
	if err != nil {
		if !opts.FailOnForbidden && IsForbiddenError(err) {
			d.logger.Warn("send_forbidden_suppressed", "chat_id", chatID, "error", err.Error())
			return Outcome{Path: PathSuppressed}, nil
		}
		return Outcome{}, err
	}
	return Outcome{Path: PathSent, MessageID: messageID(msg, 0)}, nil
}

// SendChunked splits text at semantic boundaries and delivers the chunks in
// order. The delivery intent (edit, reply target, keyboard) applies to the
// first chunk only; follow-up chunks are plain fresh sends. The returned
// outcome is the first chunk's.
func (d *Dispatcher) SendChunked(ctx context.Context, chatID int64, text string, opts SendOptions) (Outcome, error) {
	chunks := splitter.Split(text, d.messageLimit)
	if len(chunks) == 0 {
		chunks = []string{"(empty)"}
	}

	first, err := d.Send(ctx, chatID, chunks[0], opts)
	if err != nil {
		return Outcome{}, err
	}
	rest := SendOptions{
		RichFormatting:  opts.RichFormatting,
		FailOnForbidden: opts.FailOnForbidden,
	}
	for _, chunk := range chunks[1:] {
		if _, err := d.Send(ctx, chatID, chunk, rest); err != nil {
			return first, err
		}
	}
	return first, nil
}

func messageID(msg *Message, fallback int64) int64 {
	if msg == nil {
		return fallback
	}
	return msg.MessageID
}
