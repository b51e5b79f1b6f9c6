// Package apply implements the three-step application flow: team selection,
// joining reason, prior experience. The conversation cursor is persisted on
// the user record so an in-progress application survives a restart.
package apply

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ourgoal/teambot/app/config"
	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/logger"
)

// Answer length bounds, counted in runes so Arabic text is measured fairly.
const (
	ReasonMin     = 10
	ReasonMax     = 1000
	ExperienceMin = 5
	ExperienceMax = 1000
)

// Service drives the application state machine on top of the record store.
type Service struct {
	store *store.Store
	teams []config.Team
}

// New builds the application service.
func New(st *store.Store, teams []config.Team) *Service {
	return &Service{store: st, teams: teams}
}

// Teams returns the recruitment catalog in configured order.
func (s *Service) Teams() []config.Team {
	return s.teams
}

// TeamByID resolves a configured team.
func (s *Service) TeamByID(id string) (config.Team, bool) {
	for _, t := range s.teams {
		if t.ID == id {
			return t, true
		}
	}
	return config.Team{}, false
}

// Start registers the interaction and reports whether the user may begin a
// new application. An existing application in the current cycle, pending or
// decided, blocks the flow until an admin clears the records.
func (s *Service) Start(ctx context.Context, ident store.Identity) (store.User, bool, error) {
	u, err := s.store.EnsureUser(ctx, ident)
	if err != nil {
		return store.User{}, false, err
	}
	if s.store.HasApplication(ident.ID) {
		return u, false, nil
	}
	return u, true, nil
}

// SelectTeam records the chosen team and opens the reason question.
func (s *Service) SelectTeam(ctx context.Context, userID int64, teamID string) (config.Team, error) {
	team, ok := s.TeamByID(teamID)
	if !ok {
		return config.Team{}, &errs.NotFoundError{Kind: "team", Key: teamID}
	}
	// the already-applied check runs inside the update so it holds under
	// the same per-user lock that creates applications
	if _, err := s.store.UpdateUser(ctx, userID, func(u *store.User) error {
		if s.store.HasApplication(userID) {
			return &errs.ValidationError{Field: "application", Reason: "already applied this cycle"}
		}
		u.Draft = &store.Draft{
			State:    store.DraftAwaitingReason,
			TeamID:   team.ID,
			TeamName: team.Name,
		}
		return nil
	}); err != nil {
		return config.Team{}, err
	}
	logger.Debug(ctx, "service.apply", "team.selected",
		slog.Int64("user_id", userID),
		slog.String("team", team.ID),
	)
	return team, nil
}

// SubmitReason validates and stores the joining reason, advancing to the
// experience question. A ValidationError means re-prompt without losing
// the draft.
func (s *Service) SubmitReason(ctx context.Context, userID int64, text string) (store.Draft, error) {
	answer, err := validateAnswer("reason", text, ReasonMin, ReasonMax)
	if err != nil {
		return store.Draft{}, err
	}
	u, err := s.store.UpdateUser(ctx, userID, func(u *store.User) error {
		if u.Draft == nil || u.Draft.State != store.DraftAwaitingReason {
			return &errs.NotFoundError{Kind: "draft", Key: "awaiting_reason"}
		}
		u.Draft.Reason = answer
		u.Draft.State = store.DraftAwaitingExperience
		return nil
	})
	if err != nil {
		return store.Draft{}, err
	}
	return *u.Draft, nil
}

// SubmitExperience validates the final answer and turns the draft into a
// pending application. The store checks and consumes the draft under the
// per-user lock, so a duplicated final-step event cannot submit twice.
func (s *Service) SubmitExperience(ctx context.Context, userID int64, text string) (store.Application, error) {
	answer, err := validateAnswer("experience", text, ExperienceMin, ExperienceMax)
	if err != nil {
		return store.Application{}, err
	}

	app, err := s.store.CreateApplication(ctx, userID, answer)
	if err != nil {
		return store.Application{}, err
	}
	logger.Info(ctx, "service.apply", "application.submitted",
		slog.String("app_id", app.ID),
		slog.Int64("user_id", userID),
		slog.String("team", app.TeamID),
	)
	return app, nil
}

// Cancel drops any in-progress draft. Returns false when there was nothing
// to cancel.
func (s *Service) Cancel(ctx context.Context, userID int64) (bool, error) {
	had := false
	_, err := s.store.UpdateUser(ctx, userID, func(u *store.User) error {
		had = u.Draft != nil
		u.Draft = nil
		return nil
	})
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if had {
		logger.Debug(ctx, "service.apply", "draft.cancelled",
			slog.Int64("user_id", userID),
		)
	}
	return had, nil
}

// Draft returns the persisted conversation cursor, if any.
func (s *Service) Draft(userID int64) (store.Draft, bool) {
	u, err := s.store.GetUser(userID)
	if err != nil || u.Draft == nil {
		return store.Draft{}, false
	}
	return *u.Draft, true
}

func validateAnswer(field, text string, min, max int) (string, error) {
	answer := strings.TrimSpace(text)
	n := utf8.RuneCountInString(answer)
	if n < min {
		return "", &errs.ValidationError{Field: field, Reason: "too short"}
	}
	if n > max {
		return "", &errs.ValidationError{Field: field, Reason: "too long"}
	}
	return answer, nil
}
