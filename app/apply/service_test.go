package apply

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ourgoal/teambot/app/config"
	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/store"
)

func testTeams() []config.Team {
	return []config.Team{
		{ID: "exams", Name: "تيم الامتحانات"},
		{ID: "support", Name: "تيم الدعم الفني"},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(st, testTeams())
}

func applicant(id int64) store.Identity {
	return store.Identity{ID: id, FirstName: "Sara", Username: "sara"}
}

func TestFullApplicationFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, allowed, err := svc.Start(ctx, applicant(7))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !allowed {
		t.Fatal("fresh user must be allowed to apply")
	}

	team, err := svc.SelectTeam(ctx, 7, "support")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if team.Name != "تيم الدعم الفني" {
		t.Fatalf("team = %q", team.Name)
	}

	draft, err := svc.SubmitReason(ctx, 7, "أريد المساعدة في دعم الطلاب والرد على استفساراتهم")
	if err != nil {
		t.Fatalf("reason: %v", err)
	}
	if draft.State != store.DraftAwaitingExperience {
		t.Fatalf("state = %q", draft.State)
	}

	app, err := svc.SubmitExperience(ctx, 7, "سنتين خبرة في الدعم الفني")
	if err != nil {
		t.Fatalf("experience: %v", err)
	}
	if app.Status != store.StatusPending {
		t.Fatalf("status = %q", app.Status)
	}
	if app.TeamID != "support" || app.Reason == "" || app.Experience == "" {
		t.Fatalf("incomplete application: %+v", app)
	}

	// the draft is gone and a second cycle is blocked
	if _, ok := svc.Draft(7); ok {
		t.Fatal("draft must be cleared after submission")
	}
	_, allowed, err = svc.Start(ctx, applicant(7))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if allowed {
		t.Fatal("existing application must block a new cycle")
	}
}

func TestConcurrentFinalAnswersSubmitOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SelectTeam(ctx, 7, "support"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.SubmitReason(ctx, 7, "أريد المساعدة في دعم الطلاب والرد على استفساراتهم"); err != nil {
		t.Fatalf("reason: %v", err)
	}

	// a duplicated update can deliver the final answer twice at once;
	// only one submission may come out of the draft
	const events = 6
	var wg sync.WaitGroup
	results := make([]error, events)
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = svc.SubmitExperience(ctx, 7, "سنتين خبرة في الدعم الفني")
		}(i)
	}
	wg.Wait()

	submitted := 0
	for _, err := range results {
		if err == nil {
			submitted++
			continue
		}
		if !errs.IsNotFound(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d, expected exactly 1", submitted)
	}
	if apps := svc.store.ListByUser(7); len(apps) != 1 {
		t.Fatalf("%d applications created from one draft", len(apps))
	}
}

func TestSelectUnknownTeam(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := svc.SelectTeam(ctx, 7, "marketing")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReasonValidationRePrompts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SelectTeam(ctx, 7, "exams"); err != nil {
		t.Fatalf("select: %v", err)
	}

	if _, err := svc.SubmitReason(ctx, 7, "قصير"); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError for short reason, got %v", err)
	}
	long := strings.Repeat("س", ReasonMax+1)
	if _, err := svc.SubmitReason(ctx, 7, long); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError for long reason, got %v", err)
	}

	// the draft survived both rejections
	draft, ok := svc.Draft(7)
	if !ok || draft.State != store.DraftAwaitingReason {
		t.Fatalf("draft = %+v ok=%v", draft, ok)
	}

	if _, err := svc.SubmitReason(ctx, 7, "سبب مقبول وطويل بما يكفي للتحقق"); err != nil {
		t.Fatalf("valid reason rejected: %v", err)
	}
}

func TestExperienceValidationBounds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SelectTeam(ctx, 7, "exams"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.SubmitReason(ctx, 7, "أريد المساهمة في إعداد الامتحانات بدقة"); err != nil {
		t.Fatalf("reason: %v", err)
	}

	if _, err := svc.SubmitExperience(ctx, 7, "لا"); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := svc.SubmitExperience(ctx, 7, "خبرة سنتين"); err != nil {
		t.Fatalf("valid experience rejected: %v", err)
	}
}

func TestAnswersOutOfOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}

	// no team chosen yet
	if _, err := svc.SubmitReason(ctx, 7, "إجابة بدون اختيار تيم أولاً"); !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := svc.SubmitExperience(ctx, 7, "خبرة بدون سياق"); !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCancelDropsDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}

	had, err := svc.Cancel(ctx, 7)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if had {
		t.Fatal("nothing to cancel yet")
	}

	if _, err := svc.SelectTeam(ctx, 7, "exams"); err != nil {
		t.Fatalf("select: %v", err)
	}
	had, err = svc.Cancel(ctx, 7)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !had {
		t.Fatal("expected an active draft to cancel")
	}
	if _, ok := svc.Draft(7); ok {
		t.Fatal("draft must be gone after cancel")
	}
}

func TestSelectTeamBlockedByExistingApplication(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Start(ctx, applicant(7)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SelectTeam(ctx, 7, "exams"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.SubmitReason(ctx, 7, "أريد المساهمة في إعداد الامتحانات بدقة"); err != nil {
		t.Fatalf("reason: %v", err)
	}
	if _, err := svc.SubmitExperience(ctx, 7, "خبرة سنتين في التدقيق"); err != nil {
		t.Fatalf("experience: %v", err)
	}

	if _, err := svc.SelectTeam(ctx, 7, "support"); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
