package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/store"
)

const testAdminGroup int64 = -100500

type sentMessage struct {
	ChatID int64
	Text   string
	Async  bool
	Markup *tele.ReplyMarkup
}

// fakeMessenger records deliveries and assigns message ids sequentially.
// Async sends run their onSent callback inline, which keeps tests
// deterministic.
type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMessage
	fail   bool
}

func (f *fakeMessenger) deliver(chatID int64, text string, async bool, markup *tele.ReplyMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("network down")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Async: async, Markup: markup})
	return f.nextID, nil
}

func (f *fakeMessenger) SendHTML(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	return f.deliver(chatID, text, false, markup)
}

func (f *fakeMessenger) SendHTMLAsync(ctx context.Context, action string, chatID int64, text string, markup *tele.ReplyMarkup, onSent func(int)) error {
	id, err := f.deliver(chatID, text, true, markup)
	if err != nil {
		return err
	}
	if onSent != nil {
		onSent(id)
	}
	return nil
}

func (f *fakeMessenger) CopyMedia(ctx context.Context, chatID int64, src *tele.Message) (int, error) {
	return f.deliver(chatID, "(media)", false, nil)
}

func (f *fakeMessenger) toChat(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func newTestRelay(t *testing.T) (*Service, *store.Store, *fakeMessenger) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fm := &fakeMessenger{}
	return New(st, fm, testAdminGroup), st, fm
}

func applicant(t *testing.T, st *store.Store, id int64) (store.User, store.Application) {
	t.Helper()
	ctx := context.Background()
	u, err := st.EnsureUser(ctx, store.Identity{ID: id, FirstName: "Omar", Username: "omar"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := st.UpdateUser(ctx, id, func(u *store.User) error {
		u.Draft = &store.Draft{
			State:    store.DraftAwaitingExperience,
			TeamID:   "design",
			TeamName: "تيم التصميم",
			Reason:   "أحب التصميم وأريد تطوير هوية الفريق",
		}
		return nil
	}); err != nil {
		t.Fatalf("set draft: %v", err)
	}
	app, err := st.CreateApplication(ctx, id, "ثلاث سنوات خبرة")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	return u, app
}

func admin() store.Identity {
	return store.Identity{ID: 900, FirstName: "Mona"}
}

func TestSubmitBindsAdminMessage(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	u, app := applicant(t, st, 7)

	if err := svc.Submit(ctx, u, app); err != nil {
		t.Fatalf("submit: %v", err)
	}

	cards := fm.toChat(testAdminGroup)
	if len(cards) != 1 {
		t.Fatalf("admin deliveries = %d", len(cards))
	}
	if !strings.Contains(cards[0].Text, app.Reason) {
		t.Fatal("card must carry the application answers")
	}
	if cards[0].Markup == nil || len(cards[0].Markup.InlineKeyboard) == 0 {
		t.Fatal("card must carry the decision keyboard")
	}

	bound, err := st.FindByAdminMessageID(1)
	if err != nil {
		t.Fatalf("find by admin message: %v", err)
	}
	if bound.ID != app.ID {
		t.Fatalf("bound %s, expected %s", bound.ID, app.ID)
	}
}

func TestDecideOnceNotifiesApplicant(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	_, app := applicant(t, st, 7)

	decided, err := svc.Decide(ctx, app.ID, admin(), store.StatusAccepted)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != store.StatusAccepted {
		t.Fatalf("status = %q", decided.Status)
	}

	notices := fm.toChat(7)
	if len(notices) != 1 {
		t.Fatalf("applicant deliveries = %d", len(notices))
	}
	if !strings.Contains(notices[0].Text, "تم قبول طلبك") {
		t.Fatalf("unexpected notice: %s", notices[0].Text)
	}

	// a second decision is rejected and sends nothing
	if _, err := svc.Decide(ctx, app.ID, admin(), store.StatusRejected); !errs.IsAlreadyDecided(err) {
		t.Fatalf("expected AlreadyDecidedError, got %v", err)
	}
	if got := len(fm.toChat(7)); got != 1 {
		t.Fatalf("applicant deliveries after repeat = %d", got)
	}
}

func TestAdminReplyOpensBridge(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	u, app := applicant(t, st, 7)

	if err := svc.Submit(ctx, u, app); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cardID := 1

	sess, err := svc.OpenFromAdminReply(ctx, admin(), cardID, "أهلاً، ممكن تفاصيل أكثر عن خبرتك؟")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sess.UserID != 7 || sess.ApplicationID != app.ID {
		t.Fatalf("session = %+v", sess)
	}
	if sess.AdminName != "Mona" {
		t.Fatalf("admin name = %q", sess.AdminName)
	}

	// the applicant received the wrapped reply
	got := fm.toChat(7)
	if len(got) != 1 || !strings.Contains(got[0].Text, "رد من فريق Our Goal") {
		t.Fatalf("applicant messages = %+v", got)
	}

	// the applicant's answer flows back and is tracked for further replies
	consumed, err := svc.UserText(ctx, u, "بالتأكيد، عملت على ثلاث مشاريع تصميم")
	if err != nil {
		t.Fatalf("user text: %v", err)
	}
	if !consumed {
		t.Fatal("open bridge must consume applicant text")
	}
	adminSide := fm.toChat(testAdminGroup)
	if len(adminSide) != 2 {
		t.Fatalf("admin deliveries = %d", len(adminSide))
	}

	forwardedID := 3
	if _, err := st.SessionByAdminMessage(forwardedID); err != nil {
		t.Fatalf("forwarded message not tracked: %v", err)
	}
	if _, err := svc.AdminReply(ctx, admin(), forwardedID, "تمام، هنراجع ونرد عليك"); err != nil {
		t.Fatalf("reply to forwarded message: %v", err)
	}
}

func TestBridgePreservesMessageOrder(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	u, app := applicant(t, st, 7)

	if err := svc.Submit(ctx, u, app); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cardID := 1
	if _, err := svc.OpenFromAdminReply(ctx, admin(), cardID, "أهلاً بك"); err != nil {
		t.Fatalf("open: %v", err)
	}

	userSeq := []string{"الرسالة الأولى", "الرسالة الثانية", "الرسالة الثالثة"}
	adminSeq := []string{"الرد الأول", "الرد الثاني"}
	for i := 0; i < len(userSeq); i++ {
		if _, err := svc.UserText(ctx, u, userSeq[i]); err != nil {
			t.Fatalf("user text %d: %v", i, err)
		}
		if i < len(adminSeq) {
			if _, err := svc.AdminReply(ctx, admin(), cardID, adminSeq[i]); err != nil {
				t.Fatalf("admin reply %d: %v", i, err)
			}
		}
	}

	// the admin group sees the card and then the forwarded texts in the
	// order they were sent
	adminSide := fm.toChat(testAdminGroup)
	if len(adminSide) != 1+len(userSeq) {
		t.Fatalf("admin deliveries = %d", len(adminSide))
	}
	for i, want := range userSeq {
		if !strings.Contains(adminSide[1+i].Text, want) {
			t.Fatalf("admin delivery %d = %q, expected %q", 1+i, adminSide[1+i].Text, want)
		}
	}

	// the applicant sees the opening reply first, then the replies in order
	userSide := fm.toChat(7)
	if len(userSide) != 1+len(adminSeq) {
		t.Fatalf("applicant deliveries = %d", len(userSide))
	}
	for i, want := range adminSeq {
		if !strings.Contains(userSide[1+i].Text, want) {
			t.Fatalf("applicant delivery %d = %q, expected %q", 1+i, userSide[1+i].Text, want)
		}
	}
}

func TestUserTextWithoutBridge(t *testing.T) {
	svc, st, _ := newTestRelay(t)
	ctx := context.Background()
	u, _ := applicant(t, st, 7)

	consumed, err := svc.UserText(ctx, u, "هل وصلكم طلبي؟")
	if err != nil {
		t.Fatalf("user text: %v", err)
	}
	if consumed {
		t.Fatal("no bridge, text must fall through")
	}
}

func TestAdminReplyToUntrackedMessage(t *testing.T) {
	svc, st, _ := newTestRelay(t)
	ctx := context.Background()
	applicant(t, st, 7)

	_, err := svc.OpenFromAdminReply(ctx, admin(), 777, "رد على رسالة عادية")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCloseTearsDownBridge(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	u, app := applicant(t, st, 7)

	if err := svc.Submit(ctx, u, app); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.OpenFromAdminReply(ctx, admin(), 1, "مرحباً"); err != nil {
		t.Fatalf("open: %v", err)
	}

	sess, err := svc.Close(ctx, app.ID, admin())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if sess.UserID != 7 {
		t.Fatalf("session = %+v", sess)
	}

	// applicant got the closing notice
	var sawClose bool
	for _, m := range fm.toChat(7) {
		if strings.Contains(m.Text, "تم إنهاء المحادثة") {
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatal("applicant must be told the chat ended")
	}

	consumed, err := svc.UserText(ctx, u, "رسالة بعد الإغلاق")
	if err != nil {
		t.Fatalf("user text: %v", err)
	}
	if consumed {
		t.Fatal("closed bridge must not consume applicant text")
	}
}

func TestUserTextTransportFailure(t *testing.T) {
	svc, st, fm := newTestRelay(t)
	ctx := context.Background()
	u, app := applicant(t, st, 7)

	if err := svc.Submit(ctx, u, app); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.OpenFromAdminReply(ctx, admin(), 1, "مرحباً"); err != nil {
		t.Fatalf("open: %v", err)
	}

	fm.mu.Lock()
	fm.fail = true
	fm.mu.Unlock()

	consumed, err := svc.UserText(ctx, u, "رسالة لن تصل")
	if !consumed {
		t.Fatal("bridge membership is decided before delivery")
	}
	var te *errs.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
