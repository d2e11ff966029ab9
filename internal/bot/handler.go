package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/xuibot/internal/account"
)

const requestTimeout = 15 * time.Second

// Accounts is what the handlers need from the account service.
type Accounts interface {
	IsAuthorized(ctx context.Context, tgID int64) (bool, error)
	Menu(ctx context.Context, tgID int64) ([]account.Summary, error)
	Config(ctx context.Context, tgID int64, email string) (string, error)
}

// Sender is the outgoing half of the Telegram API, satisfied by *tele.Bot.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Bot struct {
	api      *tele.Bot
	sender   Sender
	accounts Accounts
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

type Config struct {
	Token       string
	PollTimeout time.Duration
}

func New(cfg Config, accounts Accounts, log *slog.Logger) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error("telegram handler failed", tint.Err(err))
		},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		api:      api,
		sender:   api,
		accounts: accounts,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	bot.register()
	return bot, nil
}

// Run polls Telegram until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.log.InfoContext(ctx, "bot started", "username", b.api.Me.Username)

	go func() {
		<-ctx.Done()
		b.api.Stop()
	}()
	b.api.Start()

	b.log.Info("bot stopped")
	return nil
}

func (b *Bot) register() {
	b.api.Handle("/start", b.handleStart)
	b.api.Handle("/menu", b.handleMenu)
	b.api.Handle(tele.OnCallback, b.handleCallback)

	b.api.Handle(tele.OnText, func(c tele.Context) error {
		return c.Send(msgUseMenu)
	})
}

func (b *Bot) handleStart(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user := c.Sender()
	ok, err := b.accounts.IsAuthorized(ctx, user.ID)
	if err != nil {
		return b.fail(c, "authorization check failed", err)
	}
	if ok {
		return b.sendMenu(ctx, c)
	}
	return c.Send(welcomeText(user.FirstName, user.ID), tele.ModeMarkdown)
}

func (b *Bot) handleMenu(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ok, err := b.accounts.IsAuthorized(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, "authorization check failed", err)
	}
	if !ok {
		return c.Send(msgUnauthorized)
	}
	return b.sendMenu(ctx, c)
}

// sendMenu sends one message per client, each with its own buttons.
func (b *Bot) sendMenu(ctx context.Context, c tele.Context) error {
	menu, err := b.accounts.Menu(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, "menu lookup failed", err)
	}
	if len(menu) == 0 {
		return c.Send(msgNoClients)
	}

	now := b.now()
	for _, s := range menu {
		if err := c.Send(summaryText(s, now), markdown(clientKeyboard(s.Email))); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleCallback(c tele.Context) error {
	if err := c.Respond(); err != nil {
		b.log.Warn("failed to answer callback", tint.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	data := c.Callback().Data
	switch {
	case strings.HasPrefix(data, cbConfig):
		return b.editConfig(ctx, c, strings.TrimPrefix(data, cbConfig))
	case strings.HasPrefix(data, cbRefresh), data == cbMenu:
		return b.editMenu(ctx, c)
	default:
		b.log.Debug("unknown callback", "data", data)
		return nil
	}
}

func (b *Bot) editConfig(ctx context.Context, c tele.Context, email string) error {
	link, err := b.accounts.Config(ctx, c.Sender().ID, email)
	if errors.Is(err, account.ErrClientNotFound) {
		return c.Edit(msgClientMissing)
	}
	if err != nil {
		b.log.Error("config lookup failed", "email", email, tint.Err(err))
		return c.Edit(msgUnavailable)
	}
	return c.Edit(configText(link), markdown(backKeyboard()))
}

// editMenu replaces the callback message with every client's block; the
// buttons act on the first client.
func (b *Bot) editMenu(ctx context.Context, c tele.Context) error {
	menu, err := b.accounts.Menu(ctx, c.Sender().ID)
	if err != nil {
		b.log.Error("menu lookup failed", tint.Err(err))
		return c.Edit(msgUnavailable)
	}
	if len(menu) == 0 {
		return c.Edit(msgNoClients)
	}
	return c.Edit(menuText(menu, b.now()), markdown(clientKeyboard(menu[0].Email)))
}

// Notify sends a changed link to its owner.
func (b *Bot) Notify(_ context.Context, ch account.Change) error {
	_, err := b.sender.Send(
		tele.ChatID(ch.TgID),
		notificationText(ch.Email, ch.Link),
		tele.ModeMarkdown,
	)
	return err
}

func (b *Bot) fail(c tele.Context, msg string, err error) error {
	b.log.Error(msg, "tg_id", c.Sender().ID, tint.Err(err))
	return c.Send(msgUnavailable)
}
