package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vigil/internal/config"
)

// Telegram 把消息推送到配置的会话。API 基址、超时和重试次数
// 全部来自 notify.telegram 配置，测试时把基址指向本地假服务即可。
type Telegram struct {
	cfg    config.TelegramConfig
	client *http.Client
}

func NewTelegram(cfg config.TelegramConfig) *Telegram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.telegram.org"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendText 发送 Markdown 文本，失败按尝试次数线性退避重试。
func (t *Telegram) SendText(text string) error {
	if t.cfg.BotToken == "" || t.cfg.ChatID == "" {
		return fmt.Errorf("telegram bot token and chat id are required")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.cfg.ChatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIBaseURL, "/"), t.cfg.BotToken)

	var lastErr error
	for attempt := 0; attempt < t.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		if lastErr = t.post(endpoint, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.cfg.RetryMax, lastErr)
}

func (t *Telegram) post(endpoint string, body []byte) error {
	resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}
