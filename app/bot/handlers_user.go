package bot

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/apply"
	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/messages"
	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/logger"
	"github.com/ourgoal/teambot/core/telegram/callbacks"
	tghelpers "github.com/ourgoal/teambot/core/telegram/helpers"
	"github.com/ourgoal/teambot/core/telegram/keyboard"
)

const uniqueTeam = "team"

func identity(sender *tele.User) store.Identity {
	if sender == nil {
		return store.Identity{}
	}
	return store.Identity{
		ID:        sender.ID,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Username:  sender.Username,
	}
}

func (a *App) teamKeyboard() *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(a.cfg.Teams))
	for _, t := range a.cfg.Teams {
		btns = append(btns, keyboard.InlineBtn{Text: t.Name, Unique: uniqueTeam, Data: t.ID})
	}
	return keyboard.InlineButtonsNPerRow(btns, 2)
}

// cmdStart opens the application flow with the team keyboard, unless an
// application from the current cycle already exists.
func (a *App) cmdStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	_, allowed, err := a.apply.Start(ctx, identity(c.Sender()))
	if err != nil {
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}
	if !allowed {
		return tghelpers.SendHTML(c, messages.AlreadyApplied)
	}
	return tghelpers.SendHTML(c, messages.Welcome, a.teamKeyboard())
}

func (a *App) cmdHelp(c tele.Context) error {
	return tghelpers.SendHTML(c, messages.Help)
}

func (a *App) cmdStatus(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	u, err := a.store.EnsureUser(ctx, identity(c.Sender()))
	if err != nil {
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}
	apps := a.store.ListByUser(u.ID)
	return tghelpers.SendHTML(c, messages.Status(u, apps))
}

func (a *App) cmdCancel(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	had, err := a.apply.Cancel(ctx, c.Sender().ID)
	if err != nil {
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}
	if !had {
		return tghelpers.SendHTML(c, messages.NothingToCancel)
	}
	return tghelpers.SendHTML(c, messages.Cancelled)
}

// cbTeam handles the team-selection button and asks the first question.
func (a *App) cbTeam(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	teamID := callbacks.CallbackPayload(c)

	team, err := a.apply.SelectTeam(ctx, c.Sender().ID, teamID)
	if err != nil {
		switch {
		case errs.IsNotFound(err):
			return tghelpers.EditOrSendHTML(c, messages.UnknownTeam)
		case errs.IsValidation(err):
			return tghelpers.EditOrSendHTML(c, messages.AlreadyApplied)
		default:
			return tghelpers.EditOrSendHTML(c, messages.ErrorGeneric)
		}
	}
	return tghelpers.EditOrSendHTML(c, messages.ReasonQuestion(team.Name))
}

// reasonAnswer consumes the joining-reason step.
func (a *App) reasonAnswer(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	draft, err := a.apply.SubmitReason(ctx, c.Sender().ID, c.Text())
	if err != nil {
		if errs.IsValidation(err) {
			return tghelpers.SendHTML(c, messages.ReasonInvalid(reasonBounds()))
		}
		if errs.IsNotFound(err) {
			return tghelpers.SendHTML(c, messages.Unknown)
		}
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}
	return tghelpers.SendHTML(c, messages.ExperienceQuestion(draft.TeamName))
}

// experienceAnswer consumes the final step and hands the stored
// application to the relay.
func (a *App) experienceAnswer(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	userID := c.Sender().ID

	app, err := a.apply.SubmitExperience(ctx, userID, c.Text())
	if err != nil {
		if errs.IsValidation(err) {
			return tghelpers.SendHTML(c, messages.ExperienceInvalid(experienceBounds()))
		}
		if errs.IsNotFound(err) {
			return tghelpers.SendHTML(c, messages.Unknown)
		}
		return tghelpers.SendHTML(c, messages.ErrorGeneric)
	}

	u, err := a.store.GetUser(userID)
	if err != nil {
		u = store.User{ID: userID}
	}
	if err := a.relay.Submit(ctx, u, app); err != nil {
		logger.Warn(ctx, "service.relay", "submit.enqueue_failed",
			slog.String("app_id", app.ID),
			slog.String("err", err.Error()),
		)
	}
	return tghelpers.SendHTML(c, messages.Submitted(app.TeamName))
}

func (a *App) unknownText(c tele.Context) error {
	return tghelpers.SendHTML(c, messages.Unknown)
}

func reasonBounds() (int, int)     { return apply.ReasonMin, apply.ReasonMax }
func experienceBounds() (int, int) { return apply.ExperienceMin, apply.ExperienceMax }
