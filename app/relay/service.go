// Package relay bridges applicants and the admin group: it posts submitted
// applications with decision controls, delivers one-shot accept/reject
// decisions, and carries the two-way conversation that an admin opens by
// replying to an application card.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/errs"
	"github.com/ourgoal/teambot/app/messages"
	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/logger"
	"github.com/ourgoal/teambot/core/telegram/keyboard"
)

// Callback uniques used on admin-group inline keyboards.
const (
	UniqueAccept  = "app_accept"
	UniqueReject  = "app_reject"
	UniqueEndChat = "relay_end"
)

// Messenger is the transport surface the relay needs. The production
// implementation wraps the bot API plus the async dispatcher; tests swap in
// a recording fake.
type Messenger interface {
	// SendHTML delivers synchronously and returns the new message id.
	SendHTML(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error)
	// SendHTMLAsync enqueues a fire-and-forget delivery; onSent, when not
	// nil, runs with the delivered message id.
	SendHTMLAsync(ctx context.Context, action string, chatID int64, text string, markup *tele.ReplyMarkup, onSent func(messageID int)) error
	// CopyMedia re-sends the media payload of src to the chat and returns
	// the new message id.
	CopyMedia(ctx context.Context, chatID int64, src *tele.Message) (int, error)
}

// Service implements the admin relay on top of the record store.
type Service struct {
	store        *store.Store
	msgr         Messenger
	adminGroupID int64

	mu    sync.Mutex
	locks map[int64]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New builds the relay service.
func New(st *store.Store, msgr Messenger, adminGroupID int64) *Service {
	return &Service{
		store:        st,
		msgr:         msgr,
		adminGroupID: adminGroupID,
		locks:        make(map[int64]*sessionLock),
	}
}

// lockSession serializes relayed deliveries for one applicant so messages
// arrive in the order they were handled.
func (s *Service) lockSession(userID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sessionLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

func decisionMarkup(appID string) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ قبول", Unique: UniqueAccept, Data: appID},
		{Text: "❌ رفض", Unique: UniqueReject, Data: appID},
	})
}

func endChatMarkup(appID string) *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "🔚 إنهاء المحادثة", Unique: UniqueEndChat, Data: appID},
	})
}

// Submit posts the application card to the admin group asynchronously and
// binds the delivered message id to the application for reply routing.
func (s *Service) Submit(ctx context.Context, u store.User, app store.Application) error {
	text := messages.AdminNotification(u, app)
	appID := app.ID
	return s.msgr.SendHTMLAsync(ctx, "admin_notify", s.adminGroupID, text, decisionMarkup(appID), func(messageID int) {
		if err := s.store.SetAdminMessageID(ctx, appID, messageID); err != nil {
			logger.Warn(ctx, "service.relay", "admin_message.bind_failed",
				slog.String("app_id", appID),
				slog.String("err", err.Error()),
			)
		}
	})
}

// Decide records a one-shot decision and notifies the applicant. The first
// decision wins; a repeat attempt surfaces AlreadyDecidedError so the
// caller can answer the pressing admin without side effects.
func (s *Service) Decide(ctx context.Context, appID string, admin store.Identity, outcome store.Status) (store.Application, error) {
	app, err := s.store.Decide(ctx, appID, admin.ID, outcome)
	if err != nil {
		return store.Application{}, err
	}

	adminName := displayName(admin)
	var text string
	if outcome == store.StatusAccepted {
		text = messages.Accepted(app.TeamName, adminName, *app.DecidedAt)
	} else {
		text = messages.Rejected(app.TeamName, adminName, *app.DecidedAt)
	}
	if err := s.msgr.SendHTMLAsync(ctx, "decision_notify", app.UserID, text, nil, nil); err != nil {
		logger.Warn(ctx, "service.relay", "decision.notify_failed",
			slog.String("app_id", appID),
			slog.String("err", err.Error()),
		)
	}

	logger.Info(ctx, "service.relay", "decision",
		slog.String("app_id", appID),
		slog.String("outcome", string(outcome)),
		slog.Int64("admin_id", admin.ID),
	)
	return app, nil
}

// OpenFromAdminReply starts (or re-targets) the conversation bridge when an
// admin replies to an application card or to a relayed applicant message,
// and delivers the reply text to the applicant.
func (s *Service) OpenFromAdminReply(ctx context.Context, admin store.Identity, repliedMessageID int, text string) (store.RelaySession, error) {
	sess, err := s.resolveSession(repliedMessageID)
	if err != nil {
		return store.RelaySession{}, err
	}

	sess.AdminID = admin.ID
	sess.AdminName = displayName(admin)
	if err := s.store.OpenSession(ctx, sess); err != nil {
		return store.RelaySession{}, err
	}

	unlock := s.lockSession(sess.UserID)
	defer unlock()
	if _, err := s.msgr.SendHTML(ctx, sess.UserID, messages.AdminReply(text, time.Now()), nil); err != nil {
		return store.RelaySession{}, &errs.TransportError{Action: "admin_reply", Err: err}
	}
	return sess, nil
}

// resolveSession maps a replied-to admin-group message id to the applicant:
// either an already-tracked session message or the original application card.
func (s *Service) resolveSession(repliedMessageID int) (store.RelaySession, error) {
	if sess, err := s.store.SessionByAdminMessage(repliedMessageID); err == nil {
		return sess, nil
	}
	app, err := s.store.FindByAdminMessageID(repliedMessageID)
	if err != nil {
		return store.RelaySession{}, err
	}
	return store.RelaySession{
		UserID:        app.UserID,
		ApplicationID: app.ID,
		OpenedAt:      time.Now().UTC(),
		MessageIDs:    []int{repliedMessageID},
	}, nil
}

// AdminReply delivers follow-up admin text over an open bridge.
func (s *Service) AdminReply(ctx context.Context, admin store.Identity, repliedMessageID int, text string) (store.RelaySession, error) {
	return s.OpenFromAdminReply(ctx, admin, repliedMessageID, text)
}

// AdminMedia copies an admin media reply to the applicant over the bridge.
func (s *Service) AdminMedia(ctx context.Context, admin store.Identity, repliedMessageID int, src *tele.Message) (store.RelaySession, error) {
	sess, err := s.resolveSession(repliedMessageID)
	if err != nil {
		return store.RelaySession{}, err
	}
	sess.AdminID = admin.ID
	sess.AdminName = displayName(admin)
	if err := s.store.OpenSession(ctx, sess); err != nil {
		return store.RelaySession{}, err
	}

	unlock := s.lockSession(sess.UserID)
	defer unlock()
	if _, err := s.msgr.CopyMedia(ctx, sess.UserID, src); err != nil {
		return store.RelaySession{}, &errs.TransportError{Action: "admin_media", Err: err}
	}
	return sess, nil
}

// UserText forwards applicant text to the admin group when a bridge is
// open. Returns false when the applicant has no open session.
func (s *Service) UserText(ctx context.Context, u store.User, text string) (bool, error) {
	sess, err := s.store.SessionByUser(u.ID)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	unlock := s.lockSession(u.ID)
	defer unlock()
	msgID, err := s.msgr.SendHTML(ctx, s.adminGroupID, messages.UserReply(u, text, time.Now()), endChatMarkup(sess.ApplicationID))
	if err != nil {
		return true, &errs.TransportError{Action: "user_reply", Err: err}
	}
	if err := s.store.TrackSessionMessage(ctx, u.ID, msgID); err != nil {
		logger.Warn(ctx, "service.relay", "session.track_failed",
			slog.Int64("user_id", u.ID),
			slog.String("err", err.Error()),
		)
	}
	return true, nil
}

// UserMedia forwards an applicant photo or voice message to the admin
// group when a bridge is open.
func (s *Service) UserMedia(ctx context.Context, u store.User, kind string, src *tele.Message) (bool, error) {
	sess, err := s.store.SessionByUser(u.ID)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	unlock := s.lockSession(u.ID)
	defer unlock()
	headerID, err := s.msgr.SendHTML(ctx, s.adminGroupID, messages.UserMediaHeader(u, kind), endChatMarkup(sess.ApplicationID))
	if err != nil {
		return true, &errs.TransportError{Action: "user_media", Err: err}
	}
	copyID, err := s.msgr.CopyMedia(ctx, s.adminGroupID, src)
	if err != nil {
		return true, &errs.TransportError{Action: "user_media", Err: err}
	}
	for _, id := range []int{headerID, copyID} {
		if err := s.store.TrackSessionMessage(ctx, u.ID, id); err != nil {
			logger.Warn(ctx, "service.relay", "session.track_failed",
				slog.Int64("user_id", u.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	return true, nil
}

// HasSession reports whether the applicant has an open bridge.
func (s *Service) HasSession(userID int64) bool {
	_, err := s.store.SessionByUser(userID)
	return err == nil
}

// Close tears down the bridge for the application and notifies the
// applicant. The admin-side card update is left to the caller, which holds
// the callback context.
func (s *Service) Close(ctx context.Context, appID string, admin store.Identity) (store.RelaySession, error) {
	app, err := s.store.GetApplication(appID)
	if err != nil {
		return store.RelaySession{}, err
	}
	sess, err := s.store.CloseSession(ctx, app.UserID)
	if err != nil {
		return store.RelaySession{}, err
	}

	text := messages.ChatEnded(displayName(admin), time.Now())
	if err := s.msgr.SendHTMLAsync(ctx, "relay_close_notify", sess.UserID, text, nil, nil); err != nil {
		logger.Warn(ctx, "service.relay", "close.notify_failed",
			slog.Int64("user_id", sess.UserID),
			slog.String("err", err.Error()),
		)
	}
	return sess, nil
}

func displayName(ident store.Identity) string {
	if ident.LastName == "" {
		return ident.FirstName
	}
	return ident.FirstName + " " + ident.LastName
}
