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

// Direction of a price move.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Notification describes one big price move seen during a refresh.
type Notification struct {
	Symbol        string
	Kind          string
	ObservedAt    time.Time
	Price         decimal.Decimal
	ChangePercent decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	Sources       []string
	AdditionalMsg string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered text.
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("symbol", note.Symbol).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePercent.StringFixed(2)).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	kind := note.Kind
	if kind == "" {
		kind = "Price"
	}
	arrow := "▲"
	if note.Direction == DirectionDown {
		arrow = "▼"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[FinPath %s Alert]\n", kind))
	builder.WriteString(fmt.Sprintf("%s %s %s%%\n", note.Symbol, arrow, note.ChangePercent.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Last: %s\n", note.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Threshold: %s%%\n", note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	if len(note.Sources) > 0 {
		builder.WriteString(fmt.Sprintf("Sources: %s\n", strings.Join(note.Sources, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
