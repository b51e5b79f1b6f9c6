package state

import tele "gopkg.in/telebot.v4"

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// Manager orchestrates per-user FSM state transitions.
type Manager interface {
	SetState(userID int64, st State) error
	GetState(userID int64) State
	HasState(userID int64) bool
	ClearState(userID int64) error

	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}
