package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier posts events to a Telegram chat through the bot API.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
	logger   *logrus.Entry
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *logrus.Entry) *TelegramNotifier {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	return &TelegramNotifier{
		apiBase:  base,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Notify sends the event with HTML markup. Telegram answers 400 when it cannot parse the
// entities, in which case the same text is resent without markup.
func (t *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	m := render(ev)

	var rich strings.Builder
	rich.WriteString("<b>" + html.EscapeString(m.title) + "</b>")
	for _, line := range m.body {
		rich.WriteString("\n" + html.EscapeString(line))
	}
	if m.legs != "" {
		rich.WriteString("\n<code>" + html.EscapeString(m.legs) + "</code>")
	}

	status, err := t.send(ctx, sendMessage{ChatID: t.chatID, Text: rich.String(), ParseMode: "HTML", DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest {
		t.logger.WithField("event", string(ev.Type)).Warn("telegram rejected HTML message, retrying as plain text")
		if status, err = t.send(ctx, sendMessage{ChatID: t.chatID, Text: m.plain(), DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", status)
	}
	return nil
}

func (t *TelegramNotifier) send(ctx context.Context, msg sendMessage) (int, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
