package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"setup-maturity/internal/journal"
)

// Notification 封装告警上下文。
type Notification struct {
	Instrument    string
	Timeframe     string
	Time          time.Time
	Direction     string
	EventKind     string
	ZoneKind      string
	Phase         string
	Score         decimal.Decimal
	Grade         string
	Action        string
	Reason        string
	Conflicts     []string
	Channels      []string
	AdditionalMsg string
}

// FromRecord builds a notification for a journaled evaluation.
func FromRecord(rec journal.Record, channels []string) Notification {
	note := Notification{
		Instrument: rec.Instrument,
		Timeframe:  rec.Timeframe,
		Time:       rec.Time,
		Direction:  rec.Direction,
		EventKind:  rec.EventKind,
		ZoneKind:   rec.ZoneKind,
		Phase:      rec.Phase,
		Score:      rec.ScoreDecimal(),
		Grade:      rec.Grade,
		Action:     rec.Action,
		Reason:     rec.Reason,
		Channels:   channels,
	}
	for _, c := range rec.Conflicts {
		note.Conflicts = append(note.Conflicts, fmt.Sprintf("%s %s -> %s", c.TradeID, c.TradeDirection, c.Recommendation))
	}
	return note
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("at", note.Time).
		Str("instrument", note.Instrument).
		Str("grade", note.Grade).
		Str("action", note.Action).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Setup %s] %s %s\n", note.Grade, note.Instrument, strings.ToUpper(note.Direction)))
	builder.WriteString(fmt.Sprintf("Time: %s UTC (%s)\n", note.Time.UTC().Format(time.RFC3339), note.Timeframe))
	builder.WriteString(fmt.Sprintf("Trigger: %s", note.EventKind))
	if note.ZoneKind != "" {
		builder.WriteString(fmt.Sprintf(" @ %s", note.ZoneKind))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Score: %s\n", note.Score.StringFixed(3)))
	if note.Phase != "" {
		builder.WriteString(fmt.Sprintf("Phase: %s\n", note.Phase))
	}
	if note.Action != "" {
		builder.WriteString(fmt.Sprintf("Action: %s", note.Action))
		if note.Reason != "" {
			builder.WriteString(fmt.Sprintf(" (%s)", note.Reason))
		}
		builder.WriteString("\n")
	}
	for _, c := range note.Conflicts {
		builder.WriteString(fmt.Sprintf("Conflict: %s\n", c))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

// Cooldown suppresses repeat alerts for the same instrument and direction.
type Cooldown struct {
	Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown wraps next; a non-positive window disables suppression.
func NewCooldown(next Notifier, window time.Duration) *Cooldown {
	return &Cooldown{Notifier: next, window: window, now: time.Now, last: make(map[string]time.Time)}
}

// Notify forwards unless an alert for the same key was sent within the window.
func (c *Cooldown) Notify(ctx context.Context, note Notification) error {
	key := strings.ToUpper(note.Instrument) + "|" + note.Direction
	now := c.now()

	c.mu.Lock()
	if last, ok := c.last[key]; ok && c.window > 0 && now.Sub(last) < c.window {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.Notifier.Notify(ctx, note); err != nil {
		return err
	}

	c.mu.Lock()
	c.last[key] = now
	c.mu.Unlock()
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Cooldown)(nil)
)
