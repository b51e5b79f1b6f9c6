package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ourgoal/teambot/app/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func ident(id int64) Identity {
	return Identity{ID: id, FirstName: "Ahmed", LastName: "Ali", Username: "ahmed"}
}

func setDraft(t *testing.T, s *Store, id int64, teamID, teamName, reason string) {
	t.Helper()
	if _, err := s.UpdateUser(context.Background(), id, func(u *User) error {
		u.Draft = &Draft{State: DraftAwaitingExperience, TeamID: teamID, TeamName: teamName, Reason: reason}
		return nil
	}); err != nil {
		t.Fatalf("set draft: %v", err)
	}
}

func TestEnsureUserCreatesAndUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, ident(10))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if u.FirstSeen.IsZero() || u.LastActive.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	updated, err := s.EnsureUser(ctx, Identity{ID: 10, FirstName: "Ahmed", Username: "new_handle"})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if updated.Username != "new_handle" {
		t.Fatalf("username = %q, expected new_handle", updated.Username)
	}
	if !updated.FirstSeen.Equal(u.FirstSeen) {
		t.Fatal("FirstSeen must not change on re-ensure")
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(999)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateApplicationAssignsSequentialIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "support", "تيم الدعم الفني", "أريد المساعدة في دعم الطلاب")
	app, err := s.CreateApplication(ctx, 10, "سنتين خبرة")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if app.ID != "10-1" {
		t.Fatalf("app id = %q, expected 10-1", app.ID)
	}
	if app.TeamID != "support" || app.Reason == "" {
		t.Fatalf("application must carry the draft answers: %+v", app)
	}
	if app.Status != StatusPending {
		t.Fatalf("status = %q, expected pending", app.Status)
	}

	st := s.GetStats()
	if st.TotalApplications != 1 || st.TotalApplicants != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByTeam["support"] != 1 {
		t.Fatalf("ByTeam = %v", st.ByTeam)
	}

	u, err := s.GetUser(10)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Draft != nil {
		t.Fatal("draft must be cleared after submission")
	}
	if u.TotalApplications != 1 {
		t.Fatalf("TotalApplications = %d", u.TotalApplications)
	}
}

func TestCreateApplicationRequiresDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateApplication(ctx, 99, "خبرة كافية"); !errs.IsNotFound(err) {
		t.Fatalf("unknown user: expected NotFoundError, got %v", err)
	}

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.CreateApplication(ctx, 10, "خبرة كافية"); !errs.IsNotFound(err) {
		t.Fatalf("no draft: expected NotFoundError, got %v", err)
	}

	// a draft still waiting for the reason answer must not submit
	if _, err := s.UpdateUser(ctx, 10, func(u *User) error {
		u.Draft = &Draft{State: DraftAwaitingReason, TeamID: "exams", TeamName: "تيم الامتحانات"}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.CreateApplication(ctx, 10, "خبرة كافية"); !errs.IsNotFound(err) {
		t.Fatalf("early draft: expected NotFoundError, got %v", err)
	}
}

func TestConcurrentSubmitsCreateOneApplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "design", "تيم التصميم", "أحب التصميم وأريد تطوير هوية الفريق")

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = s.CreateApplication(ctx, 10, "ثلاث سنوات خبرة")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		if err == nil {
			created++
			continue
		}
		if !errs.IsNotFound(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, expected exactly 1", created)
	}
	if apps := s.ListByUser(10); len(apps) != 1 {
		t.Fatalf("%d applications created from one draft", len(apps))
	}
}

func TestCreateApplicationBlockedWhileApplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "exams", "تيم الامتحانات", "أريد المساهمة في إعداد الامتحانات")
	if _, err := s.CreateApplication(ctx, 10, "خبرة ثلاث سنوات"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// even a hand-planted second draft must not produce a second record
	setDraft(t, s, 10, "design", "تيم التصميم", "سبب آخر للانضمام هذه المرة")
	if _, err := s.CreateApplication(ctx, 10, "خبرة أخرى"); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if apps := s.ListByUser(10); len(apps) != 1 {
		t.Fatalf("applications = %d, expected 1", len(apps))
	}
}

func TestDraftSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.UpdateUser(ctx, 10, func(u *User) error {
		u.Draft = &Draft{State: DraftAwaitingExperience, TeamID: "design", TeamName: "تيم التصميم", Reason: "أحب التصميم والإبداع"}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, err := reopened.GetUser(10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Draft == nil || u.Draft.State != DraftAwaitingExperience || u.Draft.TeamID != "design" {
		t.Fatalf("draft = %+v", u.Draft)
	}
}

func TestDecideFirstWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "exams", "تيم الامتحانات", "أريد المساهمة في إعداد الامتحانات")
	app, err := s.CreateApplication(ctx, 10, "خبرة ثلاث سنوات")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const admins = 8
	var wg sync.WaitGroup
	results := make([]error, admins)
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			outcome := StatusAccepted
			if n%2 == 1 {
				outcome = StatusRejected
			}
			_, results[n] = s.Decide(ctx, app.ID, int64(100+n), outcome)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errs.IsAlreadyDecided(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, expected exactly 1", wins)
	}

	got, err := s.GetApplication(app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Decided() || got.DecidedBy == nil || got.DecidedAt == nil {
		t.Fatalf("application not fully decided: %+v", got)
	}
}

func TestDecideUnknownApplication(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Decide(context.Background(), "77-9", 1, StatusAccepted)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListByUserNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// records from earlier cycles can coexist on disk, insert them directly
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.appsMu.Lock()
		id := fmt.Sprintf("10-%d", i+1)
		s.apps[id] = &Application{
			ID:          id,
			UserID:      10,
			TeamID:      "exams",
			TeamName:    "تيم الامتحانات",
			Reason:      fmt.Sprintf("سبب الانضمام رقم %d للاختبار", i),
			Status:      StatusPending,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}
		s.appsMu.Unlock()
	}

	apps := s.ListByUser(10)
	if len(apps) != 3 {
		t.Fatalf("len = %d", len(apps))
	}
	for i := 1; i < len(apps); i++ {
		if apps[i].SubmittedAt.After(apps[i-1].SubmittedAt) {
			t.Fatal("applications not sorted newest first")
		}
	}
}

func TestAdminMessageBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "support", "تيم الدعم الفني", "أرغب في مساعدة الطلاب دائماً")
	app, err := s.CreateApplication(ctx, 10, "خبرة سنة")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetAdminMessageID(ctx, app.ID, 555); err != nil {
		t.Fatalf("bind: %v", err)
	}

	found, err := s.FindByAdminMessageID(555)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != app.ID {
		t.Fatalf("found %s, expected %s", found.ID, app.ID)
	}
	if _, err := s.FindByAdminMessageID(556); !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := RelaySession{UserID: 10, ApplicationID: "10-1", AdminID: 500, AdminName: "Mona", MessageIDs: []int{42}}
	if err := s.OpenSession(ctx, sess); err != nil {
		t.Fatalf("open: %v", err)
	}

	byMsg, err := s.SessionByAdminMessage(42)
	if err != nil {
		t.Fatalf("by message: %v", err)
	}
	if byMsg.UserID != 10 {
		t.Fatalf("user = %d", byMsg.UserID)
	}

	if err := s.TrackSessionMessage(ctx, 10, 43); err != nil {
		t.Fatalf("track: %v", err)
	}
	byMsg, err = s.SessionByAdminMessage(43)
	if err != nil {
		t.Fatalf("by tracked message: %v", err)
	}
	if byMsg.ApplicationID != "10-1" {
		t.Fatalf("app = %s", byMsg.ApplicationID)
	}

	closed, err := s.CloseSession(ctx, 10)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.HasMessage(43) {
		t.Fatal("closed session lost tracked message")
	}
	if _, err := s.SessionByUser(10); !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError after close, got %v", err)
	}
}

func TestClearAllKeepsIdentityAndBans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "exams", "تيم الامتحانات", "سبب مفصل بما يكفي للقبول")
	if _, err := s.CreateApplication(ctx, 10, "خبرة"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetBanned(ctx, 10, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := s.OpenSession(ctx, RelaySession{UserID: 10, ApplicationID: "10-1", MessageIDs: []int{1}}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if s.HasApplication(10) {
		t.Fatal("applications must be wiped")
	}
	if _, err := s.SessionByUser(10); !errs.IsNotFound(err) {
		t.Fatal("sessions must be wiped")
	}
	st := s.GetStats()
	if st.Seq != 0 || st.TotalApplications != 0 {
		t.Fatalf("stats not reset: %+v", st)
	}

	u, err := s.GetUser(10)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Banned {
		t.Fatal("ban flag must survive clear")
	}
	if u.TotalApplications != 0 || u.Draft != nil {
		t.Fatalf("user counters not reset: %+v", u)
	}

	// fresh cycle restarts the id sequence
	setDraft(t, s, 10, "exams", "تيم الامتحانات", "سبب جديد بعد إعادة الفتح")
	app, err := s.CreateApplication(ctx, 10, "خبرة")
	if err != nil {
		t.Fatalf("create after clear: %v", err)
	}
	if app.ID != "10-1" {
		t.Fatalf("app id = %q, expected 10-1", app.ID)
	}
}

func TestSaveWritesBackup(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.EnsureUser(ctx, ident(11)); err != nil {
		t.Fatalf("ensure second: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, usersFile)); err != nil {
		t.Fatalf("users file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, usersFile+".backup")); err != nil {
		t.Fatalf("backup file: %v", err)
	}
}

func TestUpdateUserRollsBackOnFailedWrite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Make the directory unwritable so the next save fails.
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err = s.UpdateUser(ctx, 10, func(u *User) error {
		u.FirstName = "Changed"
		return nil
	})
	if err == nil {
		t.Skip("environment allows writes to read-only directory")
	}
	var se *errs.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	u, gerr := s.GetUser(10)
	if gerr != nil {
		t.Fatalf("get: %v", gerr)
	}
	if u.FirstName != "Ahmed" {
		t.Fatalf("in-memory state not rolled back: %q", u.FirstName)
	}
}

func TestSequenceStaysMonotonicAfterFailedWrite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	setDraft(t, s, 10, "exams", "تيم الامتحانات", "أريد المساهمة في إعداد الامتحانات")

	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err = s.CreateApplication(ctx, 10, "خبرة ثلاث سنوات")
	if err == nil {
		t.Skip("environment allows writes to read-only directory")
	}
	var se *errs.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	// the draft is preserved for a retry and the burned sequence number is
	// never handed out again
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod back: %v", err)
	}
	u, gerr := s.GetUser(10)
	if gerr != nil {
		t.Fatalf("get: %v", gerr)
	}
	if u.Draft == nil || u.Draft.State != DraftAwaitingExperience {
		t.Fatalf("draft lost on failed write: %+v", u.Draft)
	}
	app, err := s.CreateApplication(ctx, 10, "خبرة ثلاث سنوات")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if app.ID != "10-2" {
		t.Fatalf("app id = %q, expected 10-2", app.ID)
	}
}

func TestClearAllWaitsForInFlightWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, ident(10)); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		_, err := s.UpdateUser(ctx, 10, func(u *User) error {
			close(entered)
			<-release
			u.Draft = &Draft{State: DraftAwaitingReason, TeamID: "exams", TeamName: "تيم الامتحانات"}
			return nil
		})
		updated <- err
	}()
	<-entered

	cleared := make(chan error, 1)
	go func() {
		cleared <- s.ClearAll(ctx)
	}()

	select {
	case <-cleared:
		t.Fatal("clear must wait out the in-flight update")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-updated; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := <-cleared; err != nil {
		t.Fatalf("clear: %v", err)
	}

	u, err := s.GetUser(10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Draft != nil {
		t.Fatal("draft written before the clear must not survive it")
	}
}
