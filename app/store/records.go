package store

import "time"

// DraftState is the persisted conversation cursor of a user. Keeping it on
// the user record (rather than in process memory) lets a restarted process
// resume mid-conversation users at the exact step they were on.
type DraftState string

const (
	// DraftAwaitingReason means a team was chosen and the bot expects the
	// free-text joining reason.
	DraftAwaitingReason DraftState = "awaiting_reason"
	// DraftAwaitingExperience means the reason was recorded and the bot
	// expects the free-text experience answer.
	DraftAwaitingExperience DraftState = "awaiting_experience"
)

// Draft holds the in-progress application answers collected so far.
type Draft struct {
	State     DraftState `json:"state"`
	TeamID    string     `json:"team_id"`
	TeamName  string     `json:"team_name"`
	Reason    string     `json:"reason,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// User is the persisted identity of anyone who interacted with the bot.
// Users are never deleted; /clear only resets application-related fields.
type User struct {
	ID                int64     `json:"id"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name,omitempty"`
	Username          string    `json:"username,omitempty"`
	FirstSeen         time.Time `json:"first_seen"`
	LastActive        time.Time `json:"last_active"`
	TotalApplications int       `json:"total_applications"`
	Banned            bool      `json:"banned,omitempty"`
	Draft             *Draft    `json:"draft,omitempty"`
}

// DisplayName joins first and last name the way notifications render it.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Status enumerates the application decision lifecycle.
type Status string

const (
	// StatusPending marks a submitted application awaiting a decision.
	StatusPending Status = "pending"
	// StatusAccepted marks an admin-accepted application.
	StatusAccepted Status = "accepted"
	// StatusRejected marks an admin-rejected application.
	StatusRejected Status = "rejected"
)

// Application is a completed three-step submission. It is created only when
// all answers were collected and is never mutated by the applicant again;
// the single permitted mutation is the one-shot admin decision.
type Application struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	TeamID      string    `json:"team_id"`
	TeamName    string    `json:"team_name"`
	Reason      string    `json:"reason"`
	Experience  string    `json:"experience"`
	Status      Status    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`

	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy *int64     `json:"decided_by,omitempty"`

	// AdminMessageID is the admin-group notification message carrying the
	// decision controls. Admin replies to it open the relay session.
	AdminMessageID int `json:"admin_message_id,omitempty"`
}

// Decided reports whether a decision has been recorded.
func (a *Application) Decided() bool {
	return a.Status != StatusPending
}

// RelaySession bridges one applicant with the admin group thread that
// replied to their application. Keyed by applicant user id: a user
// participates in at most one open session.
type RelaySession struct {
	UserID        int64     `json:"user_id"`
	ApplicationID string    `json:"application_id"`
	AdminID       int64     `json:"admin_id"`
	AdminName     string    `json:"admin_name,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`

	// MessageIDs are admin-group message ids bound to this session; a reply
	// to any of them routes back to the applicant.
	MessageIDs []int `json:"message_ids,omitempty"`
}

// HasMessage reports whether the given admin-group message id belongs to
// this session.
func (s *RelaySession) HasMessage(id int) bool {
	for _, m := range s.MessageIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Stats aggregates application counters. They are updated incrementally on
// each application write and fully reset by clearAll.
type Stats struct {
	Seq               int64          `json:"seq"`
	TotalApplications int            `json:"total_applications"`
	TotalApplicants   int            `json:"total_applicants"`
	ByTeam            map[string]int `json:"by_team"`
	ByStatus          map[string]int `json:"by_status"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func newStats() Stats {
	return Stats{
		ByTeam:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
}

func (s Stats) clone() Stats {
	out := s
	out.ByTeam = make(map[string]int, len(s.ByTeam))
	for k, v := range s.ByTeam {
		out.ByTeam[k] = v
	}
	out.ByStatus = make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}
