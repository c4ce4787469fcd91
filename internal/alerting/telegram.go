package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"structure-signals/internal/signal"
)

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Announce 发送新信号，返回 message_id 作为后续回复的引用。
func (n *TelegramNotifier) Announce(ctx context.Context, c signal.Candidate) (string, error) {
	id, err := n.send(ctx, map[string]any{
		"chat_id": n.chatID,
		"text":    renderAnnouncement(c),
	})
	if err != nil {
		return "", err
	}

	ref := strconv.FormatInt(id, 10)
	n.logger.Info().Str("candidate_id", c.ID).Str("ref", ref).Msg("信号已发送 (Telegram)")
	return ref, nil
}

// FollowUp 以回复形式发送状态更新。
func (n *TelegramNotifier) FollowUp(ctx context.Context, ref string, u Update) error {
	payload := map[string]any{
		"chat_id": n.chatID,
		"text":    renderUpdate(u),
	}
	if msgID, err := strconv.ParseInt(ref, 10, 64); err == nil {
		payload["reply_to_message_id"] = msgID
		payload["allow_sending_without_reply"] = true
	}

	if _, err := n.send(ctx, payload); err != nil {
		return err
	}
	n.logger.Info().Str("candidate_id", u.CandidateID).Str("to", string(u.To)).Msg("跟进消息已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, payload map[string]any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return 0, fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}
	return result.Result.MessageID, nil
}

var _ Notifier = (*TelegramNotifier)(nil)
