package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// Telegram adapts the Telegram Bot API to the chat boundary: it normalises
// inbound updates into Events for the listener and implements the full
// Sender surface for outbound traffic. Guilds map to Telegram group chats,
// DMs to private chats.
type Telegram struct {
	token         string
	allowedGuilds map[int64]struct{}
	logger        *slog.Logger
	bot           *tgbotapi.BotAPI

	// handler is attached after construction; the listener needs the
	// adapter as its Sender before the adapter can dispatch to it.
	handler func(ctx context.Context, ev Event)
}

var _ Sender = (*Telegram)(nil)

func NewTelegram(token string, allowedGuilds []int64, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]struct{})
	for _, id := range allowedGuilds {
		allowed[id] = struct{}{}
	}
	return &Telegram{token: token, allowedGuilds: allowed, logger: logger}
}

// Attach wires the inbound event handler. Must be called before Start.
func (t *Telegram) Attach(l *Listener) {
	t.handler = l.Handle
}

// Start connects and long-polls until ctx is cancelled. Connection drops
// trigger reconnects with exponential backoff.
func (t *Telegram) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection). Returns nil on context cancellation, or an error to trigger
// reconnection.
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If nothing arrives for 2.5
	// minutes the connection is likely dead; the library blocks rather than
	// closing the channel.
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update, empty long-poll
			// returns included.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			t.dispatch(ctx, update)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// dispatch normalises one update into Events for the listener.
func (t *Telegram) dispatch(ctx context.Context, update tgbotapi.Update) {
	if t.handler == nil {
		return
	}

	if update.Message != nil {
		t.dispatchMessage(ctx, update.Message)
		return
	}
	if update.CallbackQuery != nil {
		t.dispatchCallback(ctx, update.CallbackQuery)
		return
	}
	if update.MyChatMember != nil {
		t.dispatchMembership(ctx, update.MyChatMember)
	}
}

// dispatchMembership watches the bot's own membership. Being kicked from or
// leaving a guild retires that guild's working set.
func (t *Telegram) dispatchMembership(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if upd.Chat.IsPrivate() {
		return
	}
	switch upd.NewChatMember.Status {
	case "left", "kicked":
	default:
		return
	}
	t.handler(ctx, Event{
		Kind:    EventGuildRemove,
		GuildID: upd.Chat.ID,
		At:      time.Unix(int64(upd.Date), 0).UTC(),
	})
}

func (t *Telegram) dispatchMessage(ctx context.Context, msg *tgbotapi.Message) {
	now := time.Unix(int64(msg.Date), 0).UTC()

	if msg.Chat.IsPrivate() {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		t.handler(ctx, Event{
			Kind:      EventDirectMessage,
			ChannelID: msg.Chat.ID,
			MessageID: int64(msg.MessageID),
			AuthorID:  msg.From.ID,
			Text:      text,
			At:        now,
		})
		return
	}

	if _, ok := t.allowedGuilds[msg.Chat.ID]; !ok {
		t.logger.Warn("telegram guild not allowed", "chat_id", msg.Chat.ID)
		return
	}

	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		t.handler(ctx, Event{
			Kind:     EventMemberJoin,
			GuildID:  msg.Chat.ID,
			AuthorID: member.ID,
			At:       now,
		})
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.From == nil {
		return
	}
	t.handler(ctx, Event{
		Kind:       EventMessage,
		GuildID:    msg.Chat.ID,
		ChannelID:  msg.Chat.ID,
		MessageID:  int64(msg.MessageID),
		AuthorID:   msg.From.ID,
		AuthorName: displayName(msg.From),
		Text:       text,
		At:         now,
	})
}

// displayName prefers the @username since that is where members append guild
// tags on this platform.
func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (t *Telegram) dispatchCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	guildID, data, err := splitGuildCallback(query.Data)
	if err != nil {
		return
	}
	if _, ok := t.allowedGuilds[guildID]; !ok {
		t.logger.Warn("telegram callback guild not allowed", "chat_id", guildID)
		return
	}

	// Acknowledge the button press so the client stops its spinner.
	if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Warn("failed to send callback ack", "error", err)
	}

	t.handler(ctx, Event{
		Kind:     EventCallback,
		GuildID:  guildID,
		AuthorID: query.From.ID,
		Data:     data,
		At:       time.Now().UTC(),
	})
}

// Callback data embeds the guild chat ID so presses on DM'd panels can be
// routed: "g:<guildID>:<payload>". splitGuildCallback strips the envelope.
func splitGuildCallback(data string) (int64, string, error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "g:") {
		return 0, "", fmt.Errorf("not a routed callback")
	}
	parts := strings.SplitN(data[2:], ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("invalid callback format")
	}
	var guildID int64
	if _, err := fmt.Sscanf(parts[0], "%d", &guildID); err != nil {
		return 0, "", fmt.Errorf("invalid guild in callback: %w", err)
	}
	return guildID, parts[1], nil
}

func guildCallback(guildID int64, payload string) string {
	return fmt.Sprintf("g:%d:%s", guildID, payload)
}

// --- Sender ---

// send rejects outbound traffic until Start has connected the bot. The core
// can run headless (scheduler and gateway only) with the adapter disabled.
func (t *Telegram) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if t.bot == nil {
		return tgbotapi.Message{}, fmt.Errorf("%w: telegram adapter is not connected", domain.ErrTransient)
	}
	msg, err := t.bot.Send(c)
	if err != nil && strings.Contains(err.Error(), "Forbidden") {
		// The member blocked the bot or never opened a private chat.
		return msg, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return msg, err
}

func (t *Telegram) SendMessage(_ context.Context, channelID int64, text string) error {
	msg := tgbotapi.NewMessage(channelID, text)
	if _, err := t.send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) SendDM(_ context.Context, discordID int64, text string) (domain.MessageRef, error) {
	// Telegram private chat IDs equal the user ID.
	msg := tgbotapi.NewMessage(discordID, text)
	sent, err := t.send(msg)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("telegram dm: %w", err)
	}
	return domain.MessageRef{ChannelID: discordID, MessageID: int64(sent.MessageID)}, nil
}

func (t *Telegram) EditMessage(_ context.Context, ref domain.MessageRef, text string) error {
	edit := tgbotapi.NewEditMessageText(ref.ChannelID, int(ref.MessageID), text)
	if _, err := t.send(edit); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

func (t *Telegram) PostQuest(_ context.Context, channelID int64, q *domain.Quest) (domain.MessageRef, error) {
	msg := tgbotapi.NewMessage(channelID, renderQuest(q))
	msg.ParseMode = "MarkdownV2"
	keyboard := questKeyboard(q)
	msg.ReplyMarkup = &keyboard
	sent, err := t.send(msg)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("telegram post quest: %w", err)
	}
	return domain.MessageRef{ChannelID: channelID, MessageID: int64(sent.MessageID)}, nil
}

func (t *Telegram) EditQuest(_ context.Context, ref domain.MessageRef, q *domain.Quest) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(ref.ChannelID, int(ref.MessageID), renderQuest(q), questKeyboard(q))
	edit.ParseMode = "MarkdownV2"
	if _, err := t.send(edit); err != nil {
		return fmt.Errorf("telegram edit quest: %w", err)
	}
	return nil
}

func (t *Telegram) PostNudge(_ context.Context, ref domain.MessageRef, q *domain.Quest) error {
	msg := tgbotapi.NewMessage(ref.ChannelID,
		fmt.Sprintf("*%s* is still recruiting\\.", escapeMarkdownV2(q.Title)))
	msg.ParseMode = "MarkdownV2"
	msg.ReplyToMessageID = int(ref.MessageID)
	if _, err := t.send(msg); err != nil {
		return fmt.Errorf("telegram nudge: %w", err)
	}
	return nil
}

func (t *Telegram) PostCharacter(_ context.Context, channelID int64, ch *domain.Character) (domain.MessageRef, error) {
	msg := tgbotapi.NewMessage(channelID, renderCharacter(ch))
	msg.ParseMode = "MarkdownV2"
	sent, err := t.send(msg)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("telegram post character: %w", err)
	}
	return domain.MessageRef{ChannelID: channelID, MessageID: int64(sent.MessageID)}, nil
}

func (t *Telegram) EditCharacter(_ context.Context, ref domain.MessageRef, ch *domain.Character) error {
	edit := tgbotapi.NewEditMessageText(ref.ChannelID, int(ref.MessageID), renderCharacter(ch))
	edit.ParseMode = "MarkdownV2"
	if _, err := t.send(edit); err != nil {
		return fmt.Errorf("telegram edit character: %w", err)
	}
	return nil
}

func (t *Telegram) SendAdjudicationPanel(_ context.Context, discordID int64, q *domain.Quest) error {
	msg := tgbotapi.NewMessage(discordID, renderPanel(q))
	msg.ParseMode = "MarkdownV2"
	keyboard := panelKeyboard(q)
	if len(keyboard.InlineKeyboard) > 0 {
		msg.ReplyMarkup = &keyboard
	}
	if _, err := t.send(msg); err != nil {
		return fmt.Errorf("telegram panel: %w", err)
	}
	return nil
}

// --- rendering ---

func questKeyboard(q *domain.Quest) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Join",
				guildCallback(q.GuildID, "join:"+q.QuestID.String())),
		),
	)
}

func panelKeyboard(q *domain.Quest) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, su := range q.Signups {
		if su.Status != domain.SignupApplied {
			continue
		}
		base := fmt.Sprintf("adj:%s:%s", q.QuestID, su.UserID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Accept "+su.UserID.String(),
				guildCallback(q.GuildID, base+":accept")),
			tgbotapi.NewInlineKeyboardButtonData("Decline",
				guildCallback(q.GuildID, base+":decline")),
		))
	}
	if !q.SignupsClosed {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Close sign-ups",
				guildCallback(q.GuildID, fmt.Sprintf("adj:%s:close", q.QuestID))),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func renderQuest(q *domain.Quest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdownV2(q.Title))
	fmt.Fprintf(&b, "Starts: %s\n", escapeMarkdownV2(q.StartingAt.UTC().Format(time.RFC1123)))
	if q.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", escapeMarkdownV2(q.Duration.Duration().String()))
	}
	if len(q.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", escapeMarkdownV2(strings.Join(q.Tags, ", ")))
	}
	if q.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdownV2(q.Description))
	}
	switch {
	case q.SignupsClosed:
		b.WriteString("\nSign\\-ups are closed\\.")
	default:
		b.WriteString("\nTap Join to sign up\\.")
	}
	return b.String()
}

func renderCharacter(ch *domain.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", escapeMarkdownV2(ch.Name))
	if ch.Status == domain.CharacterRetired {
		b.WriteString(" \\(retired\\)")
	}
	b.WriteString("\n")
	if ch.SheetURL != "" {
		fmt.Fprintf(&b, "Sheet: %s\n", escapeMarkdownV2(ch.SheetURL))
	}
	if len(ch.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", escapeMarkdownV2(strings.Join(ch.Tags, ", ")))
	}
	if ch.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdownV2(ch.Description))
	}
	return b.String()
}

func renderPanel(q *domain.Quest) string {
	pending := 0
	for _, su := range q.Signups {
		if su.Status == domain.SignupApplied {
			pending++
		}
	}
	return fmt.Sprintf("*%s*\nPending sign\\-ups: %d", escapeMarkdownV2(q.Title), pending)
}

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parse mode
// treats as syntax: _ * [ ] ( ) ~ > # + - = | { } . !
func escapeMarkdownV2(s string) string {
	const specialChars = "_*[]()~>#+-=|{}.!"

	result := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(specialChars, c) >= 0 {
			result = append(result, '\\')
		}
		result = append(result, c)
	}
	return string(result)
}
