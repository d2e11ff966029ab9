package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/xuibot/internal/account"
)

// Callback data prefixes of the inline buttons.
const (
	cbConfig  = "config_"
	cbRefresh = "refresh_"
	cbMenu    = "menu"
)

const (
	msgUnauthorized  = "❌ Вы не авторизованы. Обратитесь к администратору."
	msgNoClients     = "❌ Клиенты не найдены."
	msgClientMissing = "❌ Клиент не найден."
	msgUnavailable   = "⚠️ Не удалось получить данные. Попробуйте позже."
	msgUseMenu       = "Используйте /menu, чтобы посмотреть ваши конфиги."

	timeLayout = "2006-01-02 15:04:05"
)

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// escape protects user-provided text inside legacy Markdown.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// bold wraps s in bold markers. Legacy Markdown has no escapes inside an
// entity, so each special character is placed, escaped, between bold runs.
func bold(s string) string {
	var b strings.Builder
	start := 0
	run := func(end int) {
		if end > start {
			b.WriteString("*" + s[start:end] + "*")
		}
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte("_*`[", s[i]) >= 0 {
			run(i)
			b.WriteString(escape(s[i : i+1]))
			start = i + 1
		}
	}
	run(len(s))
	return b.String()
}

func welcomeText(firstName string, id int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Привет, %s! 👋\n\n", escape(firstName))
	fmt.Fprintf(&b, "Ваш Telegram ID: `%d`\n\n", id)
	b.WriteString("❌ Ваш клиент не найден в базе данных.\n")
	b.WriteString("Обратитесь к администратору для добавления вашего аккаунта.")
	return b.String()
}

// summaryText renders one client block of the menu.
func summaryText(s account.Summary, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n\n", bold(s.Email))
	if s.HasTraffic {
		fmt.Fprintf(&b, "🔼 Исходящий трафик: ↑%sGB\n", formatGB(s.UpGB))
		fmt.Fprintf(&b, "🔽 Входящий трафик: ↓%sGB\n", formatGB(s.DownGB))
		fmt.Fprintf(&b, "📊 Всего: ↑↓%sGB", formatGB(s.TotalGB))
	} else {
		b.WriteString("📊 Статистика трафика недоступна")
	}
	fmt.Fprintf(&b, "\n\n📋🔄 Обновлено: %s", now.Format(timeLayout))
	return b.String()
}

// menuText joins the blocks of every client, for edits of a single message.
func menuText(menu []account.Summary, now time.Time) string {
	blocks := make([]string, 0, len(menu))
	for _, s := range menu {
		blocks = append(blocks, summaryText(s, now))
	}
	return strings.Join(blocks, "\n\n")
}

func configText(link string) string {
	return fmt.Sprintf("📄 Твой конфиг:\n\n```\n%s\n```", link)
}

func notificationText(email, link string) string {
	return fmt.Sprintf("🚨 Конфиг для %s был обновлён\n\n```\n%s\n```", escape(email), link)
}

// formatGB prints at least one decimal, so 3 reads "3.0".
func formatGB(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func clientKeyboard(email string) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{
			{{Text: "📄 Мой конфиг", Data: cbConfig + email}},
			{{Text: "🔄 Обновить", Data: cbRefresh + email}},
		},
	}
}

func backKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{
			{{Text: "📋 Меню", Data: cbMenu}},
		},
	}
}

func markdown(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
}
