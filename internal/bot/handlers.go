package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gkorepanov/barrier-bot/internal/auth"
	"github.com/gkorepanov/barrier-bot/internal/callback"
	"github.com/gkorepanov/barrier-bot/internal/store"
	"github.com/gkorepanov/barrier-bot/internal/telegram"
)

const helpText = `Available commands:
/open — show the barrier buttons
/add_barrier +79XXXXXXXXX name — register a new barrier (admins)
/help — this message

Admins can also share a contact to manage that user's role and barrier access.`

func (b *Bot) deniedText() string {
	if b.cfg.SupportUsername == "" {
		return "⛔ You have no access to this bot."
	}
	return fmt.Sprintf("⛔ You have no access to this bot. Contact @%s to get access.",
		strings.TrimPrefix(b.cfg.SupportUsername, "@"))
}

func (b *Bot) handleStart(ctx context.Context, ev inboundEvent, _ []string) error {
	name := strings.TrimSpace(ev.identity.FirstName)
	greeting := "👋 Hi!"
	if name != "" {
		greeting = "👋 Hi, " + name + "!"
	}
	_, err := b.dispatcher.Send(ctx, ev.chatID, greeting+" Use /open to open a barrier.", telegram.SendOptions{})
	if err != nil {
		return err
	}
	return b.sendBarrierKeyboard(ctx, ev)
}

func (b *Bot) handleHelp(ctx context.Context, ev inboundEvent, _ []string) error {
	_, err := b.dispatcher.Send(ctx, ev.chatID, helpText, telegram.SendOptions{})
	return err
}

func (b *Bot) handleOpen(ctx context.Context, ev inboundEvent, _ []string) error {
	return b.sendBarrierKeyboard(ctx, ev)
}

func (b *Bot) sendBarrierKeyboard(ctx context.Context, ev inboundEvent) error {
	barriers, err := b.store.UserBarriers(ctx, ev.identity.UserID)
	if err != nil {
		return err
	}
	if len(barriers) == 0 {
		_, err := b.dispatcher.Send(ctx, ev.chatID,
			"You have no barriers yet. Ask an admin to grant you access.", telegram.SendOptions{})
		return err
	}
	buttons := make([]telegram.InlineKeyboardButton, 0, len(barriers))
	for _, barrier := range barriers {
		token, err := callback.Encode(callback.OpenBarrier{BarrierID: barrier.ID})
		if err != nil {
			return err
		}
		if !callback.FitsLimit(token) {
			return fmt.Errorf("open-barrier token for %s exceeds the payload limit", barrier.ID)
		}
		buttons = append(buttons, telegram.InlineKeyboardButton{
			Text:         "🚧 " + barrierTitle(barrier.Name),
			CallbackData: token,
		})
	}
	_, err = b.dispatcher.Send(ctx, ev.chatID, "Press a button to open a barrier:", telegram.SendOptions{
		ReplyMarkup: telegram.KeyboardColumn(buttons...),
	})
	return err
}

func (b *Bot) handleAddBarrier(ctx context.Context, ev inboundEvent, args []string) error {
	if len(args) < 2 {
		_, err := b.dispatcher.Send(ctx, ev.chatID,
			"Usage: /add_barrier +79XXXXXXXXX name", telegram.SendOptions{})
		return err
	}
	phone := args[0]
	if err := validateBarrierPhone(phone); err != nil {
		_, sendErr := b.dispatcher.Send(ctx, ev.chatID,
			fmt.Sprintf("Bad phone number: %v. Expected the +79XXXXXXXXX form.", err), telegram.SendOptions{})
		return sendErr
	}
	// The stored name uses underscores; they turn back into spaces on every
	// button.
	name := strings.Join(args[1:], "_")

	barrierID, err := b.store.AddBarrier(ctx, phone, name)
	if err != nil {
		return err
	}
	if err := b.store.GrantBarrier(ctx, ev.identity.UserID, barrierID); err != nil {
		return err
	}
	b.logger.Info("barrier_added",
		"barrier_id", barrierID,
		"name", name,
		"added_by", ev.identity.UserID,
	)

	text := fmt.Sprintf("✅ Barrier %q added and granted to you.", barrierTitle(name))
	if from := b.caller.FromNumber(); from != "" {
		text += fmt.Sprintf("\n\nMake sure the barrier controller accepts calls from %s.", from)
	}
	_, err = b.dispatcher.Send(ctx, ev.chatID, text, telegram.SendOptions{})
	return err
}

func validateBarrierPhone(phone string) error {
	if !strings.HasPrefix(phone, "+79") {
		return errors.New("must start with +79")
	}
	if len(phone) != 12 {
		return errors.New("must be 12 characters long")
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return errors.New("must contain digits only")
		}
	}
	return nil
}

// handleContact runs when an admin shares a contact: the target user is
// registered and the admin gets keyboards to manage the target's role and
// per-barrier access.
func (b *Bot) handleContact(ctx context.Context, ev inboundEvent, contact *telegram.Contact) error {
	if contact.UserID == 0 {
		_, err := b.dispatcher.Send(ctx, ev.chatID,
			"This contact has no Telegram account, nothing to manage.", telegram.SendOptions{})
		return err
	}
	target := auth.Identity{
		UserID:    contact.UserID,
		FirstName: contact.FirstName,
		LastName:  contact.LastName,
	}
	if err := b.store.UpsertUser(ctx, target); err != nil {
		return err
	}
	role, err := b.store.GetRole(ctx, target.UserID)
	if err != nil {
		return err
	}

	targetName := contactTitle(contact)
	roleMarkup, err := roleKeyboard(target.UserID, role)
	if err != nil {
		return err
	}
	_, err = b.dispatcher.Send(ctx, ev.chatID,
		fmt.Sprintf("Choose a role for %s:", targetName),
		telegram.SendOptions{ReplyMarkup: roleMarkup})
	if err != nil {
		return err
	}

	accessMarkup, err := b.accessKeyboard(ctx, ev.identity.UserID, target.UserID)
	if err != nil {
		return err
	}
	if accessMarkup == nil {
		return nil
	}
	_, err = b.dispatcher.Send(ctx, ev.chatID,
		fmt.Sprintf("Toggle barrier access for %s:", targetName),
		telegram.SendOptions{ReplyMarkup: accessMarkup})
	return err
}

func (b *Bot) handleChooseRole(ctx context.Context, ev inboundEvent, cmd callback.Command) error {
	choose, ok := cmd.(callback.ChooseRole)
	if !ok {
		return fmt.Errorf("choose-role route got %T", cmd)
	}
	if err := b.store.SetRole(ctx, choose.TargetUserID, choose.Role); err != nil {
		return err
	}
	b.logger.Info("role_set",
		"target_user_id", choose.TargetUserID,
		"role", string(choose.Role),
		"set_by", ev.identity.UserID,
	)

	markup, err := roleKeyboard(choose.TargetUserID, choose.Role)
	if err != nil {
		return err
	}
	return b.refreshKeyboard(ctx, ev, "Choose a role:", markup)
}

func (b *Bot) handleBarrierAccess(ctx context.Context, ev inboundEvent, cmd callback.Command) error {
	grant, ok := cmd.(callback.GrantBarrierAccess)
	if !ok {
		return fmt.Errorf("barrier-access route got %T", cmd)
	}
	granted, err := b.store.ToggleBarrierAccess(ctx, grant.TargetUserID, grant.BarrierID)
	if err != nil {
		return err
	}
	b.logger.Info("barrier_access_toggled",
		"target_user_id", grant.TargetUserID,
		"barrier_id", grant.BarrierID,
		"granted", granted,
		"toggled_by", ev.identity.UserID,
	)

	markup, err := b.accessKeyboard(ctx, ev.identity.UserID, grant.TargetUserID)
	if err != nil {
		return err
	}
	if markup == nil {
		return nil
	}
	return b.refreshKeyboard(ctx, ev, "Toggle barrier access:", markup)
}

func (b *Bot) handleOpenBarrier(ctx context.Context, ev inboundEvent, cmd callback.Command) error {
	open, ok := cmd.(callback.OpenBarrier)
	if !ok {
		return fmt.Errorf("open-barrier route got %T", cmd)
	}
	// Per-barrier access is re-checked at press time; the button may outlive
	// the grant.
	has, err := b.store.HasBarrier(ctx, ev.identity.UserID, open.BarrierID)
	if err != nil {
		return err
	}
	if !has {
		_, err := b.dispatcher.Send(ctx, ev.chatID, "You have no access to this barrier!", telegram.SendOptions{})
		return err
	}
	barrier, err := b.store.GetBarrier(ctx, open.BarrierID)
	if errors.Is(err, store.ErrNotFound) {
		_, sendErr := b.dispatcher.Send(ctx, ev.chatID, "This barrier no longer exists.", telegram.SendOptions{})
		return sendErr
	}
	if err != nil {
		return err
	}

	if err := b.caller.RequestCallback(ctx, barrier.PhoneNumber); err != nil {
		b.logger.Warn("open_barrier_call_failed",
			"barrier_id", barrier.ID,
			"user_id", ev.identity.UserID,
			"error", err.Error(),
		)
		_, sendErr := b.dispatcher.Send(ctx, ev.chatID,
			"Called the barrier via the API. Error:\n"+err.Error(), telegram.SendOptions{})
		return sendErr
	}
	b.logger.Info("barrier_opened",
		"barrier_id", barrier.ID,
		"barrier_name", barrier.Name,
		"user_id", ev.identity.UserID,
	)
	return nil
}

// refreshKeyboard edits the pressed message in place so its keyboard shows
// the new state. An unchanged keyboard resolves as a not-modified no-op.
func (b *Bot) refreshKeyboard(ctx context.Context, ev inboundEvent, fallbackText string, markup *telegram.InlineKeyboardMarkup) error {
	text := ev.messageText
	if text == "" {
		text = fallbackText
	}
	opts := telegram.SendOptions{ReplyMarkup: markup}
	if ev.messageID != 0 {
		opts.TryEditMessageID = ev.messageID
	}
	_, err := b.dispatcher.Send(ctx, ev.chatID, text, opts)
	return err
}

func roleKeyboard(targetUserID int64, current callback.Role) (*telegram.InlineKeyboardMarkup, error) {
	buttons := make([]telegram.InlineKeyboardButton, 0, len(callback.Roles()))
	for _, role := range callback.Roles() {
		token, err := callback.Encode(callback.ChooseRole{Role: role, TargetUserID: targetUserID})
		if err != nil {
			return nil, err
		}
		if !callback.FitsLimit(token) {
			return nil, fmt.Errorf("choose-role token for %d exceeds the payload limit", targetUserID)
		}
		text := string(role)
		if role == current {
			text = "✅ " + text
		}
		buttons = append(buttons, telegram.InlineKeyboardButton{Text: text, CallbackData: token})
	}
	return telegram.KeyboardColumn(buttons...), nil
}

// accessKeyboard lists the admin's own barriers with the target's current
// grants marked. Returns nil when the admin has no barriers to offer.
func (b *Bot) accessKeyboard(ctx context.Context, adminUserID, targetUserID int64) (*telegram.InlineKeyboardMarkup, error) {
	barriers, err := b.store.UserBarriers(ctx, adminUserID)
	if err != nil {
		return nil, err
	}
	if len(barriers) == 0 {
		return nil, nil
	}
	buttons := make([]telegram.InlineKeyboardButton, 0, len(barriers))
	for i, barrier := range barriers {
		token, err := callback.Encode(callback.GrantBarrierAccess{BarrierID: barrier.ID, TargetUserID: targetUserID})
		if err != nil {
			return nil, err
		}
		if !callback.FitsLimit(token) {
			return nil, fmt.Errorf("barrier-access token for %s exceeds the payload limit", barrier.ID)
		}
		has, err := b.store.HasBarrier(ctx, targetUserID, barrier.ID)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("%d. %s", i+1, barrierTitle(barrier.Name))
		if has {
			text = "✅ " + text
		}
		buttons = append(buttons, telegram.InlineKeyboardButton{Text: text, CallbackData: token})
	}
	return telegram.KeyboardColumn(buttons...), nil
}

func barrierTitle(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func contactTitle(c *telegram.Contact) string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return "the user"
	}
	return name
}
