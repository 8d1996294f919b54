package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram implementa ports.Notifier sobre el Bot API. Delivery failures
// are logged and swallowed: a dead bot must never stall the trading loop.
type Telegram struct {
	http    *http.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegram crea un notificador de Telegram. Token y chat id vienen del
// entorno (nunca del YAML).
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: telegramAPIBase,
		token:   token,
		chatID:  chatID,
	}
}

// Notify envía un mensaje informativo.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	t.send(ctx, message)
	return nil
}

// Alert envía un mensaje urgente. Telegram no distingue prioridades, el
// prefijo del mensaje ya lo hace.
func (t *Telegram) Alert(ctx context.Context, message string) error {
	t.send(ctx, message)
	return nil
}

func (t *Telegram) send(ctx context.Context, message string) {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", EscapeMarkdownV2(message))
	form.Set("parse_mode", "MarkdownV2")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		slog.Warn("telegram: build request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		slog.Warn("telegram: send failed", "err", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		slog.Warn("telegram: send rejected", "status", resp.StatusCode, "body", truncate(string(body), 200))
		return
	}

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiResp); err == nil && !apiResp.OK {
		slog.Warn("telegram: api error", "description", apiResp.Description)
	}
}

// markdownV2Special son los caracteres que MarkdownV2 obliga a escapar
// fuera de entidades.
const markdownV2Special = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapa un texto plano para parse_mode=MarkdownV2.
func EscapeMarkdownV2(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
