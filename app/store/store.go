// Package store persists the bot's record collections as flat JSON files:
// users, applications, relay sessions and aggregate stats. The files are the
// source of truth across restarts. Writes are atomic per file and
// read-modify-write sequences are serialized per key; operations on
// unrelated users never block each other.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/core/logger"
)

const (
	usersFile        = "users.json"
	applicationsFile = "applications.json"
	sessionsFile     = "sessions.json"
	statsFile        = "stats.json"
)

// Identity carries the sender fields recorded on every interaction.
type Identity struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// Store is the JSON-file record store.
type Store struct {
	dir string

	usersMu sync.Mutex
	users   map[int64]*User

	appsMu sync.Mutex
	apps   map[string]*Application

	sessMu   sync.Mutex
	sessions map[int64]*RelaySession

	statsMu sync.Mutex
	stats   Stats

	// clearMu fences ClearAll against in-flight keyed writes: every
	// mutating operation holds the read side for its full duration, so a
	// clear cannot swap the collections while a rollback is pending.
	clearMu sync.RWMutex

	userLocks *keyedMutex
	appLocks  *keyedMutex
}

// Open loads the record collections from dir, creating the directory when
// missing. Records failing basic shape validation are dropped with a warning,
// matching the recover-what-you-can behaviour of the data files' consumers.
func Open(ctx context.Context, dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errs.StorageError{Op: "mkdir", File: dir, Err: err}
	}

	s := &Store{
		dir:       dir,
		users:     make(map[int64]*User),
		apps:      make(map[string]*Application),
		sessions:  make(map[int64]*RelaySession),
		stats:     newStats(),
		userLocks: newKeyedMutex(),
		appLocks:  newKeyedMutex(),
	}

	start := time.Now()
	if _, err := loadJSON(s.path(usersFile), &s.users); err != nil {
		return nil, err
	}
	if _, err := loadJSON(s.path(applicationsFile), &s.apps); err != nil {
		return nil, err
	}
	if _, err := loadJSON(s.path(sessionsFile), &s.sessions); err != nil {
		return nil, err
	}
	if _, err := loadJSON(s.path(statsFile), &s.stats); err != nil {
		return nil, err
	}
	if s.stats.ByTeam == nil {
		s.stats.ByTeam = make(map[string]int)
	}
	if s.stats.ByStatus == nil {
		s.stats.ByStatus = make(map[string]int)
	}

	dropped := s.pruneInvalid()
	if dropped > 0 {
		logger.Warn(ctx, "service.store", "store.integrity",
			slog.Int("dropped", dropped),
		)
	}

	logger.Info(ctx, "service.store", "store.open",
		slog.String("dir", dir),
		slog.Int("users", len(s.users)),
		slog.Int("applications", len(s.apps)),
		slog.Int("sessions", len(s.sessions)),
		slog.Duration("duration", logger.Took(start)),
	)
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// pruneInvalid drops records whose required fields are missing.
func (s *Store) pruneInvalid() int {
	dropped := 0
	for id, u := range s.users {
		if u == nil || u.ID != id || u.FirstName == "" {
			delete(s.users, id)
			dropped++
		}
	}
	for id, a := range s.apps {
		if a == nil || a.ID != id || a.UserID == 0 || a.TeamID == "" || a.Status == "" {
			delete(s.apps, id)
			dropped++
		}
	}
	for uid, sess := range s.sessions {
		if sess == nil || sess.UserID != uid || sess.ApplicationID == "" {
			delete(s.sessions, uid)
			dropped++
		}
	}
	return dropped
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

func cloneUser(u *User) *User {
	out := *u
	if u.Draft != nil {
		d := *u.Draft
		out.Draft = &d
	}
	return &out
}

func cloneApp(a *Application) *Application {
	out := *a
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		out.DecidedAt = &t
	}
	if a.DecidedBy != nil {
		id := *a.DecidedBy
		out.DecidedBy = &id
	}
	return &out
}

func cloneSession(sess *RelaySession) *RelaySession {
	out := *sess
	out.MessageIDs = append([]int(nil), sess.MessageIDs...)
	return &out
}

func (s *Store) saveUsers() error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return saveJSON(s.path(usersFile), s.users)
}

func (s *Store) saveApps() error {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	return saveJSON(s.path(applicationsFile), s.apps)
}

func (s *Store) saveSessions() error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return saveJSON(s.path(sessionsFile), s.sessions)
}

func (s *Store) saveStats() error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.UpdatedAt = time.Now().UTC()
	return saveJSON(s.path(statsFile), s.stats)
}

// GetUser returns a copy of the user record or a NotFoundError.
func (s *Store) GetUser(id int64) (User, error) {
	s.usersMu.Lock()
	u, ok := s.users[id]
	s.usersMu.Unlock()
	if !ok {
		return User{}, &errs.NotFoundError{Kind: "user", Key: userKey(id)}
	}
	return *cloneUser(u), nil
}

// EnsureUser upserts the identity fields and stamps activity. Called on
// every inbound interaction.
func (s *Store) EnsureUser(ctx context.Context, ident Identity) (User, error) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.userLocks.Lock(userKey(ident.ID))
	defer unlock()

	now := time.Now().UTC()
	s.usersMu.Lock()
	prev, existed := s.users[ident.ID]
	var work *User
	if existed {
		work = cloneUser(prev)
	} else {
		work = &User{ID: ident.ID, FirstSeen: now}
	}
	work.FirstName = ident.FirstName
	work.LastName = ident.LastName
	work.Username = ident.Username
	work.LastActive = now
	s.users[ident.ID] = work
	s.usersMu.Unlock()

	if err := s.saveUsers(); err != nil {
		s.rollbackUser(ident.ID, prev, existed)
		return User{}, err
	}
	if !existed {
		logger.Debug(ctx, "service.store", "user.created",
			slog.Int64("user_id", ident.ID),
		)
	}
	return *cloneUser(work), nil
}

// UpdateUser applies fn to a copy of the record under the per-user lock and
// persists the result. On a failed write the previous value is restored so
// the caller can retry with its input intact.
func (s *Store) UpdateUser(ctx context.Context, id int64, fn func(*User) error) (User, error) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.userLocks.Lock(userKey(id))
	defer unlock()
	return s.updateUserLocked(ctx, id, fn)
}

func (s *Store) updateUserLocked(ctx context.Context, id int64, fn func(*User) error) (User, error) {
	s.usersMu.Lock()
	prev, ok := s.users[id]
	if !ok {
		s.usersMu.Unlock()
		return User{}, &errs.NotFoundError{Kind: "user", Key: userKey(id)}
	}
	work := cloneUser(prev)
	s.usersMu.Unlock()

	if err := fn(work); err != nil {
		return User{}, err
	}

	s.usersMu.Lock()
	s.users[id] = work
	s.usersMu.Unlock()

	if err := s.saveUsers(); err != nil {
		s.rollbackUser(id, prev, true)
		return User{}, err
	}
	return *cloneUser(work), nil
}

func (s *Store) rollbackUser(id int64, prev *User, existed bool) {
	s.usersMu.Lock()
	if existed {
		s.users[id] = prev
	} else {
		delete(s.users, id)
	}
	s.usersMu.Unlock()
}

// IsBanned reports whether the user id carries the ban flag.
func (s *Store) IsBanned(id int64) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u, ok := s.users[id]
	return ok && u.Banned
}

// SetBanned flips the ban flag, creating a stub record for users the bot
// has never seen (admins may ban by raw id).
func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) error {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.userLocks.Lock(userKey(id))
	defer unlock()

	s.usersMu.Lock()
	prev, existed := s.users[id]
	var work *User
	if existed {
		work = cloneUser(prev)
	} else {
		now := time.Now().UTC()
		work = &User{ID: id, FirstName: "unknown", FirstSeen: now, LastActive: now}
	}
	work.Banned = banned
	s.users[id] = work
	s.usersMu.Unlock()

	if err := s.saveUsers(); err != nil {
		s.rollbackUser(id, prev, existed)
		return err
	}
	logger.Info(ctx, "service.store", "user.ban",
		slog.Int64("user_id", id),
		slog.Bool("banned", banned),
	)
	return nil
}

// AllUserIDs returns every known user id (broadcast fan-out).
func (s *Store) AllUserIDs() []int64 {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetApplication returns a copy of the application or a NotFoundError.
func (s *Store) GetApplication(id string) (Application, error) {
	s.appsMu.Lock()
	a, ok := s.apps[id]
	s.appsMu.Unlock()
	if !ok {
		return Application{}, &errs.NotFoundError{Kind: "application", Key: id}
	}
	return *cloneApp(a), nil
}

// ListByUser returns the user's applications, newest first.
func (s *Store) ListByUser(userID int64) []Application {
	s.appsMu.Lock()
	var out []Application
	for _, a := range s.apps {
		if a.UserID == userID {
			out = append(out, *cloneApp(a))
		}
	}
	s.appsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// HasApplication reports whether the user has any application in the
// current cycle; a pending or decided record blocks a new submission until
// an admin clears all applications.
func (s *Store) HasApplication(userID int64) bool {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	for _, a := range s.apps {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// CreateApplication turns the user's awaiting-experience draft into a
// pending application. The draft is read, checked and consumed under the
// per-user lock, so two concurrent final-step events cannot both submit:
// the second one finds the draft gone and gets a NotFoundError. The
// application write is the one that matters: if it fails the map entry is
// removed and the draft stays intact so the user can retry (sequence
// numbers are never reused); follow-up user/stats writes degrade to
// warnings (stats may be briefly stale after a crash, which callers
// tolerate).
func (s *Store) CreateApplication(ctx context.Context, userID int64, experience string) (Application, error) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.userLocks.Lock(userKey(userID))
	defer unlock()

	s.usersMu.Lock()
	u, ok := s.users[userID]
	var draft *Draft
	if ok && u.Draft != nil {
		d := *u.Draft
		draft = &d
	}
	s.usersMu.Unlock()
	if !ok {
		return Application{}, &errs.NotFoundError{Kind: "user", Key: userKey(userID)}
	}
	if draft == nil || draft.State != DraftAwaitingExperience {
		return Application{}, &errs.NotFoundError{Kind: "draft", Key: "awaiting_experience"}
	}
	if s.HasApplication(userID) {
		return Application{}, &errs.ValidationError{Field: "application", Reason: "already applied this cycle"}
	}

	s.statsMu.Lock()
	s.stats.Seq++
	seq := s.stats.Seq
	s.statsMu.Unlock()

	app := &Application{
		ID:          fmt.Sprintf("%d-%d", userID, seq),
		UserID:      userID,
		TeamID:      draft.TeamID,
		TeamName:    draft.TeamName,
		Reason:      draft.Reason,
		Experience:  experience,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}

	s.appsMu.Lock()
	s.apps[app.ID] = app
	s.appsMu.Unlock()

	if err := s.saveApps(); err != nil {
		s.appsMu.Lock()
		delete(s.apps, app.ID)
		s.appsMu.Unlock()
		return Application{}, err
	}

	firstForUser := true
	if _, err := s.updateUserLocked(ctx, userID, func(u *User) error {
		firstForUser = u.TotalApplications == 0
		u.Draft = nil
		u.TotalApplications++
		u.LastActive = app.SubmittedAt
		return nil
	}); err != nil {
		logger.Warn(ctx, "service.store", "application.user_update_failed",
			slog.String("app_id", app.ID),
			slog.String("err", err.Error()),
		)
	}

	s.statsMu.Lock()
	s.stats.TotalApplications++
	s.stats.ByTeam[app.TeamID]++
	s.stats.ByStatus[string(StatusPending)]++
	if firstForUser {
		s.stats.TotalApplicants++
	}
	s.statsMu.Unlock()
	if err := s.saveStats(); err != nil {
		logger.Warn(ctx, "service.store", "stats.save_failed",
			slog.String("err", err.Error()),
		)
	}

	logger.Info(ctx, "service.store", "application.created",
		slog.String("app_id", app.ID),
		slog.Int64("user_id", userID),
		slog.String("team", app.TeamID),
	)
	return *cloneApp(app), nil
}

// Decide records the one-shot decision. The per-application lock makes the
// first decision win: a concurrent second attempt observes the decided
// status and gets an AlreadyDecidedError.
func (s *Store) Decide(ctx context.Context, appID string, adminID int64, outcome Status) (Application, error) {
	if outcome != StatusAccepted && outcome != StatusRejected {
		return Application{}, fmt.Errorf("store: invalid decision outcome %q", outcome)
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.appLocks.Lock(appID)
	defer unlock()

	s.appsMu.Lock()
	prev, ok := s.apps[appID]
	if !ok {
		s.appsMu.Unlock()
		return Application{}, &errs.NotFoundError{Kind: "application", Key: appID}
	}
	if prev.Decided() {
		status := prev.Status
		s.appsMu.Unlock()
		return Application{}, &errs.AlreadyDecidedError{ApplicationID: appID, Status: string(status)}
	}
	work := cloneApp(prev)
	now := time.Now().UTC()
	work.Status = outcome
	work.DecidedAt = &now
	work.DecidedBy = &adminID
	s.apps[appID] = work
	s.appsMu.Unlock()

	if err := s.saveApps(); err != nil {
		s.appsMu.Lock()
		s.apps[appID] = prev
		s.appsMu.Unlock()
		return Application{}, err
	}

	s.statsMu.Lock()
	if s.stats.ByStatus[string(StatusPending)] > 0 {
		s.stats.ByStatus[string(StatusPending)]--
	}
	s.stats.ByStatus[string(outcome)]++
	s.statsMu.Unlock()
	if err := s.saveStats(); err != nil {
		logger.Warn(ctx, "service.store", "stats.save_failed",
			slog.String("err", err.Error()),
		)
	}

	logger.Info(ctx, "service.store", "application.decided",
		slog.String("app_id", appID),
		slog.String("outcome", string(outcome)),
		slog.Int64("admin_id", adminID),
	)
	return *cloneApp(work), nil
}

// SetAdminMessageID binds the delivered admin notification to the
// application so later admin replies can be routed.
func (s *Store) SetAdminMessageID(ctx context.Context, appID string, messageID int) error {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	unlock := s.appLocks.Lock(appID)
	defer unlock()

	s.appsMu.Lock()
	prev, ok := s.apps[appID]
	if !ok {
		s.appsMu.Unlock()
		return &errs.NotFoundError{Kind: "application", Key: appID}
	}
	work := cloneApp(prev)
	work.AdminMessageID = messageID
	s.apps[appID] = work
	s.appsMu.Unlock()

	if err := s.saveApps(); err != nil {
		s.appsMu.Lock()
		s.apps[appID] = prev
		s.appsMu.Unlock()
		return err
	}
	return nil
}

// FindByAdminMessageID resolves the application whose notification carries
// the given admin-group message id.
func (s *Store) FindByAdminMessageID(messageID int) (Application, error) {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	for _, a := range s.apps {
		if a.AdminMessageID != 0 && a.AdminMessageID == messageID {
			return *cloneApp(a), nil
		}
	}
	return Application{}, &errs.NotFoundError{Kind: "application", Key: fmt.Sprintf("admin_message:%d", messageID)}
}

// OpenSession records a relay session for the applicant. Opening over an
// existing session replaces it (the latest admin reply owns the bridge).
func (s *Store) OpenSession(ctx context.Context, sess RelaySession) error {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	s.sessMu.Lock()
	prev, existed := s.sessions[sess.UserID]
	stored := cloneSession(&sess)
	s.sessions[sess.UserID] = stored
	s.sessMu.Unlock()

	if err := s.saveSessions(); err != nil {
		s.sessMu.Lock()
		if existed {
			s.sessions[sess.UserID] = prev
		} else {
			delete(s.sessions, sess.UserID)
		}
		s.sessMu.Unlock()
		return err
	}
	logger.Info(ctx, "service.store", "session.opened",
		slog.Int64("user_id", sess.UserID),
		slog.String("app_id", sess.ApplicationID),
		slog.Int64("admin_id", sess.AdminID),
	)
	return nil
}

// SessionByUser returns the open session for an applicant, if any.
func (s *Store) SessionByUser(userID int64) (RelaySession, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return RelaySession{}, &errs.NotFoundError{Kind: "session", Key: userKey(userID)}
	}
	return *cloneSession(sess), nil
}

// SessionByAdminMessage resolves the open session bound to an admin-group
// message id.
func (s *Store) SessionByAdminMessage(messageID int) (RelaySession, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for _, sess := range s.sessions {
		if sess.HasMessage(messageID) {
			return *cloneSession(sess), nil
		}
	}
	return RelaySession{}, &errs.NotFoundError{Kind: "session", Key: fmt.Sprintf("admin_message:%d", messageID)}
}

// TrackSessionMessage appends an admin-group message id to the session's
// routing set.
func (s *Store) TrackSessionMessage(ctx context.Context, userID int64, messageID int) error {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	s.sessMu.Lock()
	prev, ok := s.sessions[userID]
	if !ok {
		s.sessMu.Unlock()
		return &errs.NotFoundError{Kind: "session", Key: userKey(userID)}
	}
	work := cloneSession(prev)
	work.MessageIDs = append(work.MessageIDs, messageID)
	s.sessions[userID] = work
	s.sessMu.Unlock()

	if err := s.saveSessions(); err != nil {
		s.sessMu.Lock()
		s.sessions[userID] = prev
		s.sessMu.Unlock()
		return err
	}
	return nil
}

// CloseSession removes the applicant's session and returns its last state.
func (s *Store) CloseSession(ctx context.Context, userID int64) (RelaySession, error) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()
	s.sessMu.Lock()
	prev, ok := s.sessions[userID]
	if !ok {
		s.sessMu.Unlock()
		return RelaySession{}, &errs.NotFoundError{Kind: "session", Key: userKey(userID)}
	}
	delete(s.sessions, userID)
	s.sessMu.Unlock()

	if err := s.saveSessions(); err != nil {
		s.sessMu.Lock()
		s.sessions[userID] = prev
		s.sessMu.Unlock()
		return RelaySession{}, err
	}
	logger.Info(ctx, "service.store", "session.closed",
		slog.Int64("user_id", userID),
		slog.String("app_id", prev.ApplicationID),
	)
	return *cloneSession(prev), nil
}

// GetStats returns a copy of the aggregate counters.
func (s *Store) GetStats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.clone()
}

// ClearAll wipes applications, sessions and stats and resets the
// application-related fields of every user (identity and ban flags
// survive), so anyone may immediately re-apply. The write side of clearMu
// waits out every in-flight keyed write before the maps are swapped.
func (s *Store) ClearAll(ctx context.Context) error {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.appsMu.Lock()
	prevApps := s.apps
	s.apps = make(map[string]*Application)
	s.appsMu.Unlock()

	s.sessMu.Lock()
	prevSessions := s.sessions
	s.sessions = make(map[int64]*RelaySession)
	s.sessMu.Unlock()

	s.statsMu.Lock()
	prevStats := s.stats
	s.stats = newStats()
	s.statsMu.Unlock()

	s.usersMu.Lock()
	prevUsers := s.users
	reset := make(map[int64]*User, len(prevUsers))
	for id, u := range prevUsers {
		w := cloneUser(u)
		w.Draft = nil
		w.TotalApplications = 0
		reset[id] = w
	}
	s.users = reset
	s.usersMu.Unlock()

	rollback := func() {
		s.appsMu.Lock()
		s.apps = prevApps
		s.appsMu.Unlock()
		s.sessMu.Lock()
		s.sessions = prevSessions
		s.sessMu.Unlock()
		s.statsMu.Lock()
		s.stats = prevStats
		s.statsMu.Unlock()
		s.usersMu.Lock()
		s.users = prevUsers
		s.usersMu.Unlock()
	}

	for _, save := range []func() error{s.saveApps, s.saveSessions, s.saveUsers, s.saveStats} {
		if err := save(); err != nil {
			rollback()
			return err
		}
	}

	logger.Info(ctx, "service.store", "store.cleared",
		slog.Int("applications", len(prevApps)),
		slog.Int("sessions", len(prevSessions)),
	)
	return nil
}
