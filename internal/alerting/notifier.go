package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装风险告警上下文。
type Notification struct {
	RunID              int64
	Label              string
	Seed               uint64
	Trials             int
	GeneratedAt        time.Time
	LossProbability    decimal.Decimal
	MaxLossProbability decimal.Decimal
	DownsidePercentile decimal.Decimal
	DownsideIRR        decimal.NullDecimal
	MinDownsideIRR     decimal.Decimal
	Breaches           []string
	Channels           []string
	AdditionalMsg      string
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
		"text":    RenderMessage(note),
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

	n.logger.Info().Int64("run_id", note.RunID).
		Str("breaches", strings.Join(note.Breaches, ",")).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier for the "log" channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the breach at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	ev := n.logger.Warn().
		Int64("run_id", note.RunID).
		Str("label", note.Label).
		Str("loss_probability", note.LossProbability.StringFixed(4)).
		Strs("breaches", note.Breaches)
	if note.DownsideIRR.Valid {
		ev = ev.Str("downside_irr", note.DownsideIRR.Decimal.StringFixed(4))
	}
	ev.Msg("risk limit breached")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	hundred := decimal.NewFromInt(100)
	builder := strings.Builder{}
	builder.WriteString("[Royalty Risk Alert]\n")
	if note.Label != "" {
		builder.WriteString(fmt.Sprintf("Run: %s (#%d)\n", note.Label, note.RunID))
	} else if note.RunID > 0 {
		builder.WriteString(fmt.Sprintf("Run: #%d\n", note.RunID))
	}
	if !note.GeneratedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Generated: %s UTC\n", note.GeneratedAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Trials: %d (seed %d)\n", note.Trials, note.Seed))
	builder.WriteString(fmt.Sprintf("Loss probability: %s%% (limit %s%%)\n",
		note.LossProbability.Mul(hundred).StringFixed(2), note.MaxLossProbability.Mul(hundred).StringFixed(2)))
	if note.DownsideIRR.Valid {
		builder.WriteString(fmt.Sprintf("P%s IRR: %s%% (floor %s%%)\n",
			note.DownsidePercentile.String(),
			note.DownsideIRR.Decimal.Mul(hundred).StringFixed(2),
			note.MinDownsideIRR.Mul(hundred).StringFixed(2)))
	} else {
		builder.WriteString(fmt.Sprintf("P%s IRR: n/a (no converged trials)\n", note.DownsidePercentile.String()))
	}
	if len(note.Breaches) > 0 {
		builder.WriteString(fmt.Sprintf("Breaches: %s\n", strings.Join(note.Breaches, ", ")))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
