package bot

import (
	"context"
	"fmt"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/errs"
	tgsender "github.com/ourgoal/teambot/core/telegram/sender"
)

// Messenger adapts the bot API and the async dispatcher to the relay's
// transport surface. The bot instance only exists once the runtime is up,
// so it is bound late from the OnStart hook.
type Messenger struct {
	mu         sync.RWMutex
	bot        *tele.Bot
	dispatcher *tgsender.Dispatcher
}

// NewMessenger returns an unbound messenger.
func NewMessenger() *Messenger {
	return &Messenger{}
}

// Bind attaches the live bot and dispatcher.
func (m *Messenger) Bind(bot *tele.Bot, d *tgsender.Dispatcher) {
	m.mu.Lock()
	m.bot = bot
	m.dispatcher = d
	m.mu.Unlock()
}

func (m *Messenger) api() (*tele.Bot, *tgsender.Dispatcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bot == nil {
		return nil, nil, &errs.TransportError{Action: "send", Err: fmt.Errorf("bot not started")}
	}
	return m.bot, m.dispatcher, nil
}

func htmlOptions(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: markup}
}

// SendHTML delivers synchronously and returns the new message id.
func (m *Messenger) SendHTML(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	bot, _, err := m.api()
	if err != nil {
		return 0, err
	}
	msg, err := bot.Send(tele.ChatID(chatID), text, htmlOptions(markup))
	if err != nil {
		return 0, &errs.TransportError{Action: "send", Err: err}
	}
	return msg.ID, nil
}

// SendHTMLAsync enqueues the delivery on the dispatcher; without one it
// degrades to a synchronous send.
func (m *Messenger) SendHTMLAsync(ctx context.Context, action string, chatID int64, text string, markup *tele.ReplyMarkup, onSent func(messageID int)) error {
	bot, dispatcher, err := m.api()
	if err != nil {
		return err
	}
	run := func() error {
		msg, err := bot.Send(tele.ChatID(chatID), text, htmlOptions(markup))
		if err != nil {
			return err
		}
		if onSent != nil {
			onSent(msg.ID)
		}
		return nil
	}
	if dispatcher == nil {
		if err := run(); err != nil {
			return &errs.TransportError{Action: action, Err: err}
		}
		return nil
	}
	if err := dispatcher.Enqueue(ctx, action, "sendMessage", run); err != nil {
		return &errs.TransportError{Action: action, Err: err}
	}
	return nil
}

// CopyMedia re-sends the media payload of src to the chat.
func (m *Messenger) CopyMedia(ctx context.Context, chatID int64, src *tele.Message) (int, error) {
	bot, _, err := m.api()
	if err != nil {
		return 0, err
	}
	msg, err := bot.Copy(tele.ChatID(chatID), src)
	if err != nil {
		return 0, &errs.TransportError{Action: "copy", Err: err}
	}
	return msg.ID, nil
}
