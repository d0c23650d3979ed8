// Package bot wires the barrier bot together: the long-poll loop, the
// routing table for commands and button presses, the authorization guard
// evaluated before every handler, and operator error reporting.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gkorepanov/barrier-bot/internal/auth"
	"github.com/gkorepanov/barrier-bot/internal/callback"
	"github.com/gkorepanov/barrier-bot/internal/store"
	"github.com/gkorepanov/barrier-bot/internal/telegram"
)

// Store is the user/barrier persistence the handlers consult. Implemented
// by the MongoDB repository; faked in tests.
type Store interface {
	auth.Store
	SetRole(ctx context.Context, userID int64, role callback.Role) error
	AddBarrier(ctx context.Context, phoneNumber, name string) (string, error)
	GetBarrier(ctx context.Context, barrierID string) (*store.Barrier, error)
	UserBarriers(ctx context.Context, userID int64) ([]store.Barrier, error)
	HasBarrier(ctx context.Context, userID int64, barrierID string) (bool, error)
	GrantBarrier(ctx context.Context, userID int64, barrierID string) error
	ToggleBarrierAccess(ctx context.Context, userID int64, barrierID string) (bool, error)
}

// Caller triggers the outbound phone call that opens a barrier.
type Caller interface {
	RequestCallback(ctx context.Context, toNumber string) error
	FromNumber() string
}

// Transport is the slice of the telegram client the bot drives directly;
// outbound text goes through the Dispatcher instead.
type Transport interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Dispatcher delivers rendered responses through the fallback ladder.
type Dispatcher interface {
	Send(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (telegram.Outcome, error)
	SendChunked(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (telegram.Outcome, error)
}

type Config struct {
	AdminChatID     int64
	SupportUsername string
	PollTimeout     time.Duration
	MaxConcurrency  int
}

type Bot struct {
	transport  Transport
	dispatcher Dispatcher
	store      Store
	gate       *auth.Gate
	caller     Caller
	logger     *slog.Logger
	cfg        Config

	commands  map[string]commandRoute
	callbacks map[string]callbackRoute
}

// inboundEvent is the routing context extracted from one update.
type inboundEvent struct {
	chatID      int64
	messageID   int64
	messageText string
	identity    auth.Identity
	callbackID  string
}

type commandRoute struct {
	requirements auth.Requirements
	handle       func(ctx context.Context, ev inboundEvent, args []string) error
}

type callbackRoute struct {
	requirements auth.Requirements
	// answerText, when set, is shown as a toast while the press is handled.
	answerText string
	handle     func(ctx context.Context, ev inboundEvent, cmd callback.Command) error
}

func New(transport Transport, dispatcher Dispatcher, st Store, gate *auth.Gate, caller Caller, cfg Config, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	b := &Bot{
		transport:  transport,
		dispatcher: dispatcher,
		store:      st,
		gate:       gate,
		caller:     caller,
		logger:     logger,
		cfg:        cfg,
	}
	b.commands = map[string]commandRoute{
		"/start": {
			requirements: auth.Requirements{RequireBarrierAccess: true},
			handle:       b.handleStart,
		},
		"/help": {
			requirements: auth.Requirements{RequireBarrierAccess: true},
			handle:       b.handleHelp,
		},
		"/open": {
			requirements: auth.Requirements{RequireBarrierAccess: true},
			handle:       b.handleOpen,
		},
		"/add_barrier": {
			requirements: auth.Requirements{RequireAdmin: true, RequireBarrierAccess: true},
			handle:       b.handleAddBarrier,
		},
	}
	b.callbacks = map[string]callbackRoute{
		callback.TagChooseRole: {
			requirements: auth.Requirements{RequireAdmin: true},
			handle:       b.handleChooseRole,
		},
		callback.TagBarrierAccess: {
			requirements: auth.Requirements{RequireAdmin: true},
			handle:       b.handleBarrierAccess,
		},
		callback.TagOpenBarrier: {
			requirements: auth.Requirements{RequireBarrierAccess: true},
			answerText:   "Opening the barrier.",
			handle:       b.handleOpenBarrier,
		},
	}
	return b
}

// Run polls for updates until the context is canceled. Each update is
// handled in its own goroutine, bounded by a semaphore; all delivery for
// one update stays sequential inside its goroutine.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.waitForMe(ctx)
	if err != nil {
		return err
	}
	if me == nil {
		return nil // canceled
	}
	b.logger.Info("bot_start",
		"bot_username", me.Username,
		"bot_id", me.ID,
		"poll_timeout", b.cfg.PollTimeout.String(),
		"max_concurrency", b.cfg.MaxConcurrency,
	)

	sem := make(chan struct{}, b.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	for {
		updates, next, err := b.transport.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				b.logger.Info("bot_stop", "reason", "context_canceled")
				return nil
			}
			if telegram.IsPollTimeoutError(err) {
				b.logger.Debug("get_updates_timeout", "error", err.Error())
			} else {
				b.logger.Warn("get_updates_error", "error", err.Error())
			}
			select {
			case <-ctx.Done():
				b.logger.Info("bot_stop", "reason", "context_canceled")
				return nil
			case <-time.After(1 * time.Second):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			u := u
			wg.Add(1)
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Done()
				b.logger.Info("bot_stop", "reason", "context_canceled")
				return nil
			}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				b.handleUpdate(ctx, u)
			}()
		}
	}
}

func (b *Bot) waitForMe(ctx context.Context) (*telegram.User, error) {
	for {
		me, err := b.transport.GetMe(ctx)
		if err == nil {
			return me, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, nil
		}
		b.logger.Warn("get_me_error", "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u telegram.Update) {
	if err := b.route(ctx, u); err != nil {
		b.reportFailure(ctx, u, err)
	}
}

func (b *Bot) route(ctx context.Context, u telegram.Update) error {
	if u.CallbackQuery != nil {
		return b.routeCallback(ctx, u.CallbackQuery)
	}
	if u.Message != nil {
		return b.routeMessage(ctx, u.Message)
	}
	return nil
}

func (b *Bot) routeMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}
	ev := inboundEvent{
		chatID:      msg.Chat.ID,
		messageID:   msg.MessageID,
		messageText: msg.Text,
		identity:    identityFromUser(msg.From),
	}

	if msg.Contact != nil {
		return b.guarded(ctx, ev, auth.Requirements{RequireAdmin: true}, func(ctx context.Context) error {
			return b.handleContact(ctx, ev, msg.Contact)
		})
	}

	word, args := splitCommand(msg.Text)
	route, ok := b.commands[word]
	if !ok {
		// Free-form text and unknown commands are ignored, matching the
		// registered-handlers-only update filter.
		return nil
	}
	b.sendTyping(ctx, ev.chatID)
	return b.guarded(ctx, ev, route.requirements, func(ctx context.Context) error {
		return route.handle(ctx, ev, args)
	})
}

func (b *Bot) routeCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.From == nil {
		return nil
	}
	ev := inboundEvent{
		identity:   identityFromUser(cq.From),
		callbackID: cq.ID,
		chatID:     cq.From.ID,
	}
	if cq.Message != nil {
		ev.messageID = cq.Message.MessageID
		ev.messageText = cq.Message.Text
		if cq.Message.Chat != nil {
			ev.chatID = cq.Message.Chat.ID
		}
	}

	tag, ok := callback.Tag(cq.Data)
	if !ok {
		b.logger.Warn("callback_unknown_tag", "tag", tag, "user_id", ev.identity.UserID)
		b.answerCallback(ctx, ev, "")
		return b.replyInvalidCommand(ctx, ev)
	}
	route := b.callbacks[tag]

	return b.guarded(ctx, ev, route.requirements, func(ctx context.Context) error {
		b.answerCallback(ctx, ev, route.answerText)
		cmd, err := callback.Decode(cq.Data)
		if err != nil {
			if callback.IsProtocolError(err) {
				b.logger.Warn("callback_decode_error", "error", err.Error(), "user_id", ev.identity.UserID)
				return b.replyInvalidCommand(ctx, ev)
			}
			return err
		}
		return route.handle(ctx, ev, cmd)
	})
}

// guarded composes the authorization gate in front of a handler. A denial
// sends the standard denial message and terminates the flow; the handler
// runs only on an allow.
func (b *Bot) guarded(ctx context.Context, ev inboundEvent, req auth.Requirements, handle func(ctx context.Context) error) error {
	decision, err := b.gate.Decide(ctx, ev.identity, req)
	if err != nil {
		return err
	}
	if !decision.Allow {
		b.logger.Info("access_denied",
			"user_id", ev.identity.UserID,
			"username", ev.identity.Username,
			"require_admin", req.RequireAdmin,
			"require_barrier_access", req.RequireBarrierAccess,
		)
		_, err := b.dispatcher.Send(ctx, ev.chatID, b.deniedText(), telegram.SendOptions{
			ReplyToMessageID: ev.messageID,
			RichFormatting:   true,
		})
		return err
	}
	return handle(ctx)
}

func (b *Bot) replyInvalidCommand(ctx context.Context, ev inboundEvent) error {
	_, err := b.dispatcher.Send(ctx, ev.chatID, "Invalid command.", telegram.SendOptions{})
	return err
}

func (b *Bot) answerCallback(ctx context.Context, ev inboundEvent, text string) {
	if ev.callbackID == "" {
		return
	}
	if err := b.transport.AnswerCallbackQuery(ctx, ev.callbackID, text); err != nil {
		b.logger.Warn("answer_callback_error", "error", err.Error())
	}
}

func (b *Bot) sendTyping(ctx context.Context, chatID int64) {
	if err := b.transport.SendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Debug("send_chat_action_error", "error", err.Error())
	}
}

func identityFromUser(u *telegram.User) auth.Identity {
	return auth.Identity{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// splitCommand extracts the leading slash command, dropping a @botname
// suffix, and returns the remaining words.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	word := fields[0]
	if at := strings.Index(word, "@"); at > 0 {
		word = word[:at]
	}
	return strings.ToLower(word), fields[1:]
}
