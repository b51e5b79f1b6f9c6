package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks should behave.
// Admin commands are accepted only inside the configured admin group chat.
type AdminOptions struct {
	AdminGroupID int64
	OnReject     tele.HandlerFunc
}

// AdminOnlyMiddleware ensures downstream handlers run only for updates
// originating in the admin group.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if opts.AdminGroupID != 0 && (chat == nil || chat.ID != opts.AdminGroupID) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}

// BanChecker reports whether a user is banned from interacting with the bot.
type BanChecker interface {
	IsBanned(userID int64) bool
}

// IgnoreBannedMiddleware silently drops updates from banned users before
// any routing happens.
func IgnoreBannedMiddleware(bans BanChecker) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if bans != nil && sender != nil && bans.IsBanned(sender.ID) {
				return nil
			}
			return next(c)
		}
	}
}
