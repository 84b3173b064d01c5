package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("*\\[%s\\] %s*\n%s", alert.Level, mdEscaper.Replace(alert.Title), mdEscaper.Replace(alert.Message)),
		ParseMode: "MarkdownV2",
		// Wins and opens arrive silently; only warnings buzz the phone.
		DisableNotification: alert.Level == AlertInfo,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// mdEscaper escapes the MarkdownV2 reserved set.
var mdEscaper = func() *strings.Replacer {
	const reserved = "_*[]()~`>#+-=|{}.!"
	pairs := make([]string, 0, 2*len(reserved))
	for _, r := range reserved {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}()
