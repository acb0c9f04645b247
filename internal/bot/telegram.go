package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Telegram binds the conversation machine to the Telegram Bot API via long
// polling. Each update runs on its own goroutine; per-user serialization is
// enforced by the session store, not here.
type Telegram struct {
	api     *tgbotapi.BotAPI
	machine *Machine
	log     *slog.Logger
}

// NewTelegram authenticates against the Bot API.
func NewTelegram(token string, machine *Machine, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{api: api, machine: machine, log: log}, nil
}

// Run polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)

	t.log.Info("telegram polling started", "bot", t.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	log := t.log.With("update_id", uuid.NewString())

	switch {
	case update.Message != nil:
		msg := update.Message
		ev := messageEvent(msg)
		log.Debug("update received", "user_id", ev.UserID, "kind", int(ev.Kind))
		t.send(msg.Chat.ID, t.machine.Handle(ctx, ev), log)

	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		// Acknowledge first so the client stops its spinner, then act.
		if _, err := t.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Warn("callback ack failed", "error", err.Error())
		}
		ev := Event{
			UserID: strconv.FormatInt(cb.From.ID, 10),
			Kind:   KindAction,
			Action: cb.Data,
		}
		if cb.Message == nil {
			return
		}
		t.send(cb.Message.Chat.ID, t.machine.Handle(ctx, ev), log)
	}
}

func messageEvent(msg *tgbotapi.Message) Event {
	userID := strconv.FormatInt(msg.From.ID, 10)
	if msg.IsCommand() {
		return Event{
			UserID:  userID,
			Kind:    KindCommand,
			Command: strings.ToLower(msg.Command()),
			Args:    msg.CommandArguments(),
		}
	}
	return Event{UserID: userID, Kind: KindText, Text: msg.Text}
}

func (t *Telegram) send(chatID int64, reply Reply, log *slog.Logger) {
	if reply.Text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(reply.Buttons)
	}
	if _, err := t.api.Send(msg); err != nil {
		log.Error("send failed", "chat_id", chatID, "error", err.Error())
	}
}

func keyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var r []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
		}
		kb = append(kb, r)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}
