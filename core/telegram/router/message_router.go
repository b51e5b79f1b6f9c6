package router

import (
	"time"

	tg "github.com/ourgoal/teambot/core/telegram"
	"github.com/ourgoal/teambot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM defines the minimal interface for an FSM manager.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// Relay intercepts updates that belong to an open admin/applicant bridge.
// Handle reports whether the update was consumed by the bridge.
type Relay interface {
	HandleText(c tele.Context) (bool, error)
	HandleMedia(c tele.Context) (bool, error)
}

// TextOptions controls fallback behaviour for text and media updates.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// TextRoutes builds handlers for text, photo and voice routing. Relay
// membership is consulted ahead of conversation state: an open bridge owns
// every free-form message from either side until it is closed.
func TextRoutes(relay Relay, fsmMgr FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if relay != nil {
			consumed := false
			err := handleWithSummary(c, "relay", start, "", "", func() error {
				var rerr error
				consumed, rerr = relay.HandleText(c)
				return rerr
			})
			if consumed || err != nil {
				return err
			}
		}

		if fsmMgr != nil && fsmMgr.InProgress(c.Sender().ID) {
			return handleWithSummary(c, "fsm", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if relay != nil {
			consumed := false
			err := handleWithSummary(c, "relay_media", start, "", "", func() error {
				var rerr error
				consumed, rerr = relay.HandleMedia(c)
				return rerr
			})
			if consumed || err != nil {
				return err
			}
		}
		if opts.UnknownMedia != nil {
			return handleWithSummary(c, "unexpected_media", start, "", "", func() error {
				return opts.UnknownMedia(c)
			})
		}
		logHandlerSummary(c, "unexpected_media", start, "skip", "ok", nil)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(handler)},
		{Endpoint: tele.OnPhoto, Handler: wrap(mediaHandler)},
		{Endpoint: tele.OnVoice, Handler: wrap(mediaHandler)},
	}
}
