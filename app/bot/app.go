// Package bot assembles the recruitment bot: configuration, record store,
// application and relay services, and the Telegram wiring.
package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/ourgoal/teambot/app/apply"
	appconfig "github.com/ourgoal/teambot/app/config"
	"github.com/ourgoal/teambot/app/messages"
	"github.com/ourgoal/teambot/app/relay"
	"github.com/ourgoal/teambot/app/store"
	corecmd "github.com/ourgoal/teambot/core/cmd"
	"github.com/ourgoal/teambot/core/logger"
	coretelegram "github.com/ourgoal/teambot/core/telegram"
	"github.com/ourgoal/teambot/core/telegram/commands"
	"github.com/ourgoal/teambot/core/telegram/middleware"
	"github.com/ourgoal/teambot/core/telegram/router"
	"github.com/ourgoal/teambot/core/telegram/state"
)

// App holds the composed services.
type App struct {
	cfg   *appconfig.Config
	store *store.Store
	msgr  *Messenger
	apply *apply.Service
	relay *relay.Service
	fsm   *storeManager
	reg   *coretelegram.Registry
}

// LoadConfig adapts the app config loader to the runner.
func LoadConfig(path string) (corecmd.ConfigCarrier, error) {
	return appconfig.Load(path)
}

// Bootstrap initializes logging, opens the store and wires the services.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*appconfig.Config)
	if !ok {
		return nil, fmt.Errorf("bot: unexpected config type %T", carrier)
	}

	if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
		return nil, fmt.Errorf("bot: logger init failed: %w", err)
	}

	st, err := store.Open(logger.Background(), cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("bot: store open failed: %w", err)
	}

	msgr := NewMessenger()
	app := &App{
		cfg:   cfg,
		store: st,
		msgr:  msgr,
		apply: apply.New(st, cfg.Teams),
		relay: relay.New(st, msgr, cfg.Core.Telegram.AdminGroupID),
		fsm:   newStoreManager(st),
		reg:   coretelegram.NewRegistry(),
	}
	app.register()
	return app, nil
}

// register wires commands, callbacks and conversation steps.
func (a *App) register() {
	a.reg.RegisterCommand("/start", commands.Command{
		Handler:     a.cmdStart,
		Description: "بدء التقديم للتيمز",
		Aliases:     []string{"menu"},
	})
	a.reg.RegisterCommand("/help", commands.Command{
		Handler:     a.cmdHelp,
		Description: "عرض المساعدة",
	})
	a.reg.RegisterCommand("/status", commands.Command{
		Handler:     a.cmdStatus,
		Description: "حالة طلباتك",
	})
	a.reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.cmdCancel,
		Description: "إلغاء العملية الحالية",
	})

	a.reg.RegisterCommand("/stats", commands.Command{
		Handler:     a.cmdStats,
		Description: "إحصائيات التقديمات",
		AdminOnly:   true,
	})
	a.reg.RegisterCommand("/clear", commands.Command{
		Handler:     a.cmdClear,
		Description: "مسح جميع التقديمات",
		AdminOnly:   true,
	})
	a.reg.RegisterCommand("/broadcast", commands.Command{
		Handler:     a.cmdBroadcast,
		Description: "إرسال رسالة جماعية",
		AdminOnly:   true,
		Hidden:      true,
	})
	a.reg.RegisterCommand("/ban", commands.Command{
		Handler:     a.cmdBan,
		Description: "حظر مستخدم",
		AdminOnly:   true,
		Hidden:      true,
	})
	a.reg.RegisterCommand("/unban", commands.Command{
		Handler:     a.cmdUnban,
		Description: "رفع الحظر عن مستخدم",
		AdminOnly:   true,
		Hidden:      true,
	})

	_ = a.reg.RegisterCallback(uniqueTeam, a.cbTeam)
	_ = a.reg.RegisterCallback(relay.UniqueAccept, a.cbDecision(store.StatusAccepted))
	_ = a.reg.RegisterCallback(relay.UniqueReject, a.cbDecision(store.StatusRejected))
	_ = a.reg.RegisterCallback(relay.UniqueEndChat, a.cbEndChat)

	state.RegisterHandler(stateAwaitingReason, a.reasonAnswer)
	state.RegisterHandler(stateAwaitingExperience, a.experienceAnswer)

	a.reg.SetTextFallback(a.unknownText)
}

// TelegramRunOptions builds the runtime wiring for the bot.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()

	mws := coretelegram.DefaultMiddlewares(core, nil)
	mws = append(mws, coretelegram.Middleware{
		Name: "ignore_banned",
		Use:  middleware.IgnoreBannedMiddleware(a.store),
	})

	routes := router.CommandRoutes(a.reg, router.CommandRouteOptions{
		AdminGroupID: core.Telegram.AdminGroupID,
		OnAdminReject: func(c tele.Context) error {
			return c.Send(messages.AdminOnly)
		},
	})
	routes = append(routes, router.CallbackRoute(a.reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(&relayAdapter{app: a}, a.fsm, a.reg, router.TextOptions{
		UnknownText:  a.unknownText,
		UnknownMedia: a.unknownText,
	})...)

	return coretelegram.RunOptions{
		Config:   core,
		Registry: a.reg,
		Routes:   routes,

		Middlewares: mws,

		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.msgr.Bind(rt.Bot, rt.Dispatcher)
			return nil
		},
	}, nil
}
