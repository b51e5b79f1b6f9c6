package bot

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/messages"
	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/logger"
	"github.com/ourgoal/teambot/core/telegram/callbacks"
	"github.com/ourgoal/teambot/core/telegram/format"
	tghelpers "github.com/ourgoal/teambot/core/telegram/helpers"
)

func (a *App) cmdStats(c tele.Context) error {
	st := a.store.GetStats()
	if st.TotalApplications == 0 {
		return tghelpers.SendHTML(c, messages.NoApplicationsYet)
	}
	names := make(map[string]string, len(a.cfg.Teams))
	for _, t := range a.cfg.Teams {
		names[t.ID] = t.Name
	}
	return tghelpers.SendHTML(c, messages.StatsReport(st, names))
}

// cmdClear wipes every application, session and counter so a new
// recruitment cycle can start. User identities and ban flags survive.
func (a *App) cmdClear(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if err := a.store.ClearAll(ctx); err != nil {
		return tghelpers.SendHTML(c, messages.ClearFailed)
	}
	return tghelpers.SendHTML(c, messages.ClearDone)
}

// cmdBroadcast sends the command payload to every known user. Deliveries
// run inline so the confirmation can carry exact counts.
func (a *App) cmdBroadcast(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return tghelpers.SendHTML(c, messages.BroadcastUsage)
	}
	if len([]rune(text)) < 5 {
		return tghelpers.SendHTML(c, messages.BroadcastTooShort)
	}

	ids := a.store.AllUserIDs()
	if len(ids) == 0 {
		return tghelpers.SendHTML(c, messages.BroadcastNoRecipients)
	}

	sent, failed := 0, 0
	for _, id := range ids {
		if a.store.IsBanned(id) {
			continue
		}
		if _, err := a.msgr.SendHTML(ctx, id, text, nil); err != nil {
			failed++
			continue
		}
		sent++
	}
	logger.Info(ctx, "tg", "broadcast",
		slog.Int("sent", sent),
		slog.Int("failed", failed),
	)
	return tghelpers.SendHTML(c, messages.BroadcastResult(sent, failed, time.Now()))
}

func (a *App) cmdBan(c tele.Context) error {
	return a.setBan(c, true, messages.BanUsage)
}

func (a *App) cmdUnban(c tele.Context) error {
	return a.setBan(c, false, messages.UnbanUsage)
}

func (a *App) setBan(c tele.Context, banned bool, usage string) error {
	ctx := tghelpers.BuildContext(c)
	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
	if err != nil || id == 0 {
		return tghelpers.SendHTML(c, usage)
	}
	if err := a.store.SetBanned(ctx, id, banned); err != nil {
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}
	return tghelpers.SendHTML(c, messages.BanDone(id, banned))
}

// cbDecision resolves the accept/reject buttons on an application card.
// The first press wins; repeats only get a callback notice.
func (a *App) cbDecision(outcome store.Status) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		appID := callbacks.CallbackPayload(c)

		app, err := a.relay.Decide(ctx, appID, identity(c.Sender()), outcome)
		if err != nil {
			// the router already acked the callback, so this is best effort
			if errs.IsAlreadyDecided(err) {
				_ = c.Respond(&tele.CallbackResponse{Text: messages.AlreadyDecidedNotice})
				return nil
			}
			_ = c.Respond(&tele.CallbackResponse{Text: messages.DecisionFailed, ShowAlert: true})
			return err
		}

		mark := messages.AcceptedMark
		if app.Status == store.StatusRejected {
			mark = messages.RejectedMark
		}
		if msg := c.Message(); msg != nil {
			// re-render from the record: the delivered message's visible
			// text has the HTML entities resolved, so feeding it back
			// through HTML parse mode would break on answers that contain
			// markup characters
			card := format.EscapeHTML(msg.Text)
			if u, uerr := a.store.GetUser(app.UserID); uerr == nil {
				card = messages.AdminNotification(u, app)
			}
			return tghelpers.EditHTML(c, card+"\n\n"+mark)
		}
		return nil
	}
}

// cbEndChat closes the conversation bridge from the admin side.
func (a *App) cbEndChat(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	appID := callbacks.CallbackPayload(c)

	if _, err := a.relay.Close(ctx, appID, identity(c.Sender())); err != nil {
		_ = c.Respond(&tele.CallbackResponse{Text: messages.DecisionFailed, ShowAlert: true})
		if errs.IsNotFound(err) {
			return nil
		}
		return err
	}
	if msg := c.Message(); msg != nil {
		return tghelpers.EditHTML(c, format.EscapeHTML(msg.Text)+"\n\n"+messages.ChatEndedMark(c.Sender().FirstName))
	}
	return nil
}

// relayAdapter feeds free-form messages from both sides of the bridge into
// the relay service.
type relayAdapter struct {
	app *App
}

func (r *relayAdapter) HandleText(c tele.Context) (bool, error) {
	ctx := tghelpers.BuildContext(c)
	a := r.app

	if chat := c.Chat(); chat != nil && chat.ID == a.cfg.Core.Telegram.AdminGroupID {
		msg := c.Message()
		if msg == nil || msg.ReplyTo == nil {
			return false, nil
		}
		_, err := a.relay.AdminReply(ctx, identity(c.Sender()), msg.ReplyTo.ID, c.Text())
		if err != nil {
			if errs.IsNotFound(err) {
				return false, nil
			}
			_ = tghelpers.SendText(c, messages.AdminReplyFailed)
			return true, err
		}
		return true, tghelpers.SendText(c, messages.AdminReplyDelivered)
	}

	u, err := a.store.EnsureUser(ctx, identity(c.Sender()))
	if err != nil {
		return false, err
	}
	consumed, err := a.relay.UserText(ctx, u, c.Text())
	if !consumed {
		return false, err
	}
	if err != nil {
		_ = tghelpers.SendText(c, messages.UserMessageFailed)
		return true, err
	}
	return true, tghelpers.SendText(c, messages.UserMessageDelivered)
}

func (r *relayAdapter) HandleMedia(c tele.Context) (bool, error) {
	ctx := tghelpers.BuildContext(c)
	a := r.app
	msg := c.Message()
	if msg == nil {
		return false, nil
	}

	if chat := c.Chat(); chat != nil && chat.ID == a.cfg.Core.Telegram.AdminGroupID {
		if msg.ReplyTo == nil {
			return false, nil
		}
		_, err := a.relay.AdminMedia(ctx, identity(c.Sender()), msg.ReplyTo.ID, msg)
		if err != nil {
			if errs.IsNotFound(err) {
				return false, nil
			}
			_ = tghelpers.SendText(c, messages.AdminReplyFailed)
			return true, err
		}
		return true, tghelpers.SendText(c, messages.AdminReplyDelivered)
	}

	u, err := a.store.EnsureUser(ctx, identity(c.Sender()))
	if err != nil {
		return false, err
	}
	consumed, err := a.relay.UserMedia(ctx, u, mediaKind(msg), msg)
	if !consumed {
		return false, err
	}
	if err != nil {
		_ = tghelpers.SendText(c, messages.UserMessageFailed)
		return true, err
	}
	return true, tghelpers.SendText(c, messages.UserMessageDelivered)
}

func mediaKind(msg *tele.Message) string {
	switch {
	case msg.Photo != nil:
		return "صورة"
	case msg.Voice != nil:
		return "رسالة صوتية"
	default:
		return "وسائط"
	}
}
