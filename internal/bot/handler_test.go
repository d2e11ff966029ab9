package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/xuibot/internal/account"
	"github.com/eliseohh/xuibot/internal/logging"
	"github.com/eliseohh/xuibot/internal/panel"
)

type sentMessage struct {
	What interface{}
	Opts []interface{}
}

// MockContext implements tele.Context restricted to what the handlers use.
type MockContext struct {
	tele.Context
	User         *tele.User
	CallbackData string
	Sent         []sentMessage
	Edited       []sentMessage
	Responded    bool
}

func (m *MockContext) Sender() *tele.User { return m.User }

func (m *MockContext) Callback() *tele.Callback {
	return &tele.Callback{Sender: m.User, Data: m.CallbackData}
}

func (m *MockContext) Send(what interface{}, opts ...interface{}) error {
	m.Sent = append(m.Sent, sentMessage{What: what, Opts: opts})
	return nil
}

func (m *MockContext) Edit(what interface{}, opts ...interface{}) error {
	m.Edited = append(m.Edited, sentMessage{What: what, Opts: opts})
	return nil
}

func (m *MockContext) Respond(_ ...*tele.CallbackResponse) error {
	m.Responded = true
	return nil
}

func (m *MockContext) lastSent(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, m.Sent)
	return m.Sent[len(m.Sent)-1]
}

func (m *MockContext) lastEdited(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, m.Edited)
	return m.Edited[len(m.Edited)-1]
}

var fixedNow = time.Date(2024, 5, 17, 12, 30, 45, 0, time.UTC)

func newTestBot(t *testing.T) *Bot {
	t.Helper()
	store, _ := panel.OpenTestStore(t, panel.DefaultFixture())
	return &Bot{
		accounts: account.NewService(store, ""),
		log:      logging.Discard(),
		now:      func() time.Time { return fixedNow },
	}
}

func replyMarkup(t *testing.T, msg sentMessage) *tele.ReplyMarkup {
	t.Helper()
	for _, o := range msg.Opts {
		if so, ok := o.(*tele.SendOptions); ok {
			return so.ReplyMarkup
		}
	}
	t.Fatalf("no reply markup in %v", msg.Opts)
	return nil
}

func TestBotHandlers(t *testing.T) {
	b := newTestBot(t)
	alice := &tele.User{ID: panel.TestUserID, FirstName: "Alice"}
	stranger := &tele.User{ID: 42, FirstName: "Eve_"}

	t.Run("Start Unauthorized", func(t *testing.T) {
		ctx := &MockContext{User: stranger}
		require.NoError(t, b.handleStart(ctx))

		msg := ctx.lastSent(t).What.(string)
		assert.Contains(t, msg, `Привет, Eve\_! 👋`)
		assert.Contains(t, msg, "Ваш Telegram ID: `42`")
		assert.Contains(t, msg, "Обратитесь к администратору")
	})

	t.Run("Start Authorized Shows Menu", func(t *testing.T) {
		ctx := &MockContext{User: alice}
		require.NoError(t, b.handleStart(ctx))
		require.Len(t, ctx.Sent, 2)

		first := ctx.Sent[0].What.(string)
		assert.Contains(t, first, "👤 *alice*")
		assert.Contains(t, first, "↑1.5GB")
		assert.Contains(t, first, "↓3.0GB")
		assert.Contains(t, first, "↑↓4.5GB")
		assert.Contains(t, first, "Обновлено: 2024-05-17 12:30:45")

		kb := replyMarkup(t, ctx.Sent[0])
		assert.Equal(t, "config_alice", kb.InlineKeyboard[0][0].Data)
		assert.Equal(t, "refresh_alice", kb.InlineKeyboard[1][0].Data)

		second := ctx.Sent[1].What.(string)
		assert.Contains(t, second, `👤 *alice-phone*`)
		assert.Contains(t, second, "Статистика трафика недоступна")
	})

	t.Run("Menu Unauthorized", func(t *testing.T) {
		ctx := &MockContext{User: stranger}
		require.NoError(t, b.handleMenu(ctx))
		assert.Equal(t, msgUnauthorized, ctx.lastSent(t).What)
	})

	t.Run("Menu Authorized", func(t *testing.T) {
		ctx := &MockContext{User: alice}
		require.NoError(t, b.handleMenu(ctx))
		assert.Len(t, ctx.Sent, 2)
	})

	t.Run("Callback Config", func(t *testing.T) {
		ctx := &MockContext{User: alice, CallbackData: "config_alice"}
		require.NoError(t, b.handleCallback(ctx))
		assert.True(t, ctx.Responded)

		edit := ctx.lastEdited(t)
		msg := edit.What.(string)
		assert.True(t, strings.HasPrefix(msg, "📄 Твой конфиг:\n\n```\nvless://"+panel.TestClientID))
		assert.True(t, strings.HasSuffix(msg, "#main-alice\n```"))
		assert.Equal(t, "menu", replyMarkup(t, edit).InlineKeyboard[0][0].Data)
	})

	t.Run("Callback Config Of Other User", func(t *testing.T) {
		ctx := &MockContext{User: alice, CallbackData: "config_bob"}
		require.NoError(t, b.handleCallback(ctx))
		assert.Equal(t, msgClientMissing, ctx.lastEdited(t).What)
	})

	t.Run("Callback Refresh", func(t *testing.T) {
		ctx := &MockContext{User: alice, CallbackData: "refresh_alice"}
		require.NoError(t, b.handleCallback(ctx))

		edit := ctx.lastEdited(t)
		msg := edit.What.(string)
		assert.Contains(t, msg, "*alice*")
		assert.Contains(t, msg, `*alice-phone*`)
		assert.Equal(t, 2, strings.Count(msg, "Обновлено"))
		assert.Equal(t, "config_alice", replyMarkup(t, edit).InlineKeyboard[0][0].Data)
	})

	t.Run("Callback Menu Without Clients", func(t *testing.T) {
		ctx := &MockContext{User: stranger, CallbackData: "menu"}
		require.NoError(t, b.handleCallback(ctx))
		assert.Equal(t, msgNoClients, ctx.lastEdited(t).What)
	})

	t.Run("Callback Unknown", func(t *testing.T) {
		ctx := &MockContext{User: alice, CallbackData: "something"}
		require.NoError(t, b.handleCallback(ctx))
		assert.True(t, ctx.Responded)
		assert.Empty(t, ctx.Edited)
	})
}

type brokenAccounts struct{}

func (brokenAccounts) IsAuthorized(context.Context, int64) (bool, error) {
	return false, errors.New("database is locked")
}

func (brokenAccounts) Menu(context.Context, int64) ([]account.Summary, error) {
	return nil, errors.New("database is locked")
}

func (brokenAccounts) Config(context.Context, int64, string) (string, error) {
	return "", errors.New("database is locked")
}

func TestHandlersReportUnavailable(t *testing.T) {
	b := &Bot{accounts: brokenAccounts{}, log: logging.Discard(), now: time.Now}
	user := &tele.User{ID: 1}

	ctx := &MockContext{User: user}
	require.NoError(t, b.handleStart(ctx))
	assert.Equal(t, msgUnavailable, ctx.lastSent(t).What)

	ctx = &MockContext{User: user, CallbackData: "config_x"}
	require.NoError(t, b.handleCallback(ctx))
	assert.Equal(t, msgUnavailable, ctx.lastEdited(t).What)

	ctx = &MockContext{User: user, CallbackData: "menu"}
	require.NoError(t, b.handleCallback(ctx))
	assert.Equal(t, msgUnavailable, ctx.lastEdited(t).What)
}

type fakeSender struct {
	to   tele.Recipient
	what interface{}
	opts []interface{}
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to, f.what, f.opts = to, what, opts
	return &tele.Message{}, f.err
}

func TestNotify(t *testing.T) {
	s := &fakeSender{}
	b := &Bot{sender: s, log: logging.Discard()}

	err := b.Notify(context.Background(), account.Change{
		TgID:  panel.TestUserID,
		Entry: account.Entry{Email: "alice", Link: "vless://x@h:1?a=b#r-alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, "111111", s.to.Recipient())
	assert.Equal(t, "🚨 Конфиг для alice был обновлён\n\n```\nvless://x@h:1?a=b#r-alice\n```", s.what)
	assert.Equal(t, []interface{}{tele.ModeMarkdown}, s.opts)

	s.err = errors.New("Forbidden: bot was blocked by the user")
	require.Error(t, b.Notify(context.Background(), account.Change{TgID: 1}))
}
