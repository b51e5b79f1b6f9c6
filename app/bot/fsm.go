package bot

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/logger"
	tghelpers "github.com/ourgoal/teambot/core/telegram/helpers"
	"github.com/ourgoal/teambot/core/telegram/state"
)

// Conversation states mirror the persisted draft cursor, so an in-progress
// application picks up where it left off after a restart.
const (
	stateAwaitingReason     = state.State(store.DraftAwaitingReason)
	stateAwaitingExperience = state.State(store.DraftAwaitingExperience)
)

// storeManager is a state.Manager whose per-user cursor lives on the user
// record inside the store.
type storeManager struct {
	store *store.Store
}

func newStoreManager(st *store.Store) *storeManager {
	return &storeManager{store: st}
}

func (m *storeManager) GetState(userID int64) state.State {
	u, err := m.store.GetUser(userID)
	if err != nil || u.Draft == nil {
		return state.StateIdle
	}
	return state.State(u.Draft.State)
}

func (m *storeManager) SetState(userID int64, st state.State) error {
	if st == state.StateIdle {
		return m.ClearState(userID)
	}
	_, err := m.store.UpdateUser(logger.Background(), userID, func(u *store.User) error {
		if u.Draft == nil {
			u.Draft = &store.Draft{}
		}
		u.Draft.State = store.DraftState(st)
		return nil
	})
	return err
}

func (m *storeManager) ClearState(userID int64) error {
	_, err := m.store.UpdateUser(logger.Background(), userID, func(u *store.User) error {
		u.Draft = nil
		return nil
	})
	if errs.IsNotFound(err) {
		return nil
	}
	return err
}

func (m *storeManager) HasState(userID int64) bool {
	return m.GetState(userID) != state.StateIdle
}

func (m *storeManager) InProgress(userID int64) bool {
	return m.HasState(userID)
}

func (m *storeManager) ManagerHandler(c tele.Context) error {
	userID := c.Sender().ID
	current := m.GetState(userID)
	ctx := tghelpers.BuildContext(c)
	logger.Debug(ctx, "tg", "fsm.manager",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("state", string(current)),
	)

	if handler, ok := state.Handler(current); ok {
		return handler(c)
	}
	return nil
}
