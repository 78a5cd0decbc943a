// Package telegram provides a client for sending notifications via Telegram Bot API.
// Opportunity alerts go out as plain text with emoji decoration; startup,
// error and recovery notices use Markdown formatting.
//
// Delivery is retried with linear backoff. Alerts carry a sequence number kept
// in a small JSON counter file (see Sequence).
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/oddsmath"
)

// DivergenceThreshold is the relative odds move that triggers a warning line.
const DivergenceThreshold = 0.10

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	channel        string
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client. chatID is either a numeric chat id
// or a public channel name starting with "@".
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	c := &Client{
		bot:            bot,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}

	if strings.HasPrefix(chatID, "@") {
		c.channel = chatID
	} else {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID: %w", err)
		}
		c.chatID = id
	}

	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryDelayBase <= 0 {
		c.retryDelayBase = time.Second
	}
	return c, nil
}

// StartupInfo is what the startup notice reports.
type StartupInfo struct {
	Version      string
	Model        string
	HoursAhead   int
	MinEV        float64
	OddMin       float64
	OddMax       float64
	ScanInterval time.Duration
}

// SendOpportunity sends one alert. liveOdd is the odd re-fetched right before
// sending; zero means it could not be fetched.
func (c *Client) SendOpportunity(opp *models.Opportunity, seq int64, liveOdd float64) error {
	return c.send(FormatOpportunity(opp, seq, liveOdd, c.now()), "")
}

// SendStartup announces that the service is running.
func (c *Client) SendStartup(info StartupInfo) error {
	return c.send(formatStartup(info), tgbotapi.ModeMarkdown)
}

// SendError reports a failed cycle.
func (c *Client) SendError(err error) error {
	text := fmt.Sprintf("🚨 *courtedge error*\n\n`%s`\n\n_%s_",
		escapeCode(err.Error()), c.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	return c.send(text, tgbotapi.ModeMarkdown)
}

// SendRecovery reports that cycles succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	text := fmt.Sprintf("✅ *courtedge recovered* after %d consecutive failure(s)", failures)
	return c.send(text, tgbotapi.ModeMarkdown)
}

// SendText sends an unformatted message.
func (c *Client) SendText(text string) error {
	return c.send(text, "")
}

func (c *Client) message(text, parseMode string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if c.channel != "" {
		msg = tgbotapi.NewMessageToChannel(c.channel, text)
	} else {
		msg = tgbotapi.NewMessage(c.chatID, text)
	}
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	return msg
}

func (c *Client) send(text, parseMode string) error {
	msg := c.message(text, parseMode)

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// FormatOpportunity renders the plain-text alert for opp.
func FormatOpportunity(opp *models.Opportunity, seq int64, liveOdd float64, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎾 #%d VALUE BET\n", seq)
	fmt.Fprintf(&b, "%s\n", opp.Match)
	fmt.Fprintf(&b, "🏆 %s (%s, %s)\n", opp.League, opp.Surface, tierLabel(opp.Tier))

	start := opp.StartTime.UTC()
	fmt.Fprintf(&b, "🕒 %s UTC (in %s)\n", start.Format("2006-01-02 15:04"), formatDuration(start.Sub(now)))

	fmt.Fprintf(&b, "✅ Pick: %s (%s) @ %s\n", opp.Pick(), opp.Side, models.RoundOdd(opp.Odd).StringFixed(2))
	fmt.Fprintf(&b, "📊 Model %.1f%% | Market %.1f%%\n", opp.ModelProbability*100, opp.MarketProbability*100)
	fmt.Fprintf(&b, "💰 EV %+.1f%% | Confidence %s\n", opp.EV*100, opp.Confidence)

	if liveOdd > 0 {
		if d := oddsmath.Divergence(opp.Odd, liveOdd); d > DivergenceThreshold {
			sign := "+"
			if liveOdd < opp.Odd {
				sign = "-"
			}
			fmt.Fprintf(&b, "⚠️ Odds moved: now %s (%s%.1f%%), check before betting\n",
				models.RoundOdd(liveOdd).StringFixed(2), sign, d*100)
		}
	}

	return b.String()
}

func formatStartup(info StartupInfo) string {
	var b strings.Builder
	b.WriteString("🎾 *courtedge started*\n\n")
	if info.Version != "" {
		fmt.Fprintf(&b, "Version: `%s`\n", escapeCode(info.Version))
	}
	fmt.Fprintf(&b, "Model: `%s`\n", escapeCode(info.Model))
	fmt.Fprintf(&b, "Window: next %dh\n", info.HoursAhead)
	fmt.Fprintf(&b, "Min EV: %.1f%%\n", info.MinEV*100)
	fmt.Fprintf(&b, "Odds band: %.2f to %.2f\n", info.OddMin, info.OddMax)
	fmt.Fprintf(&b, "Scan every: %s\n", formatDuration(info.ScanInterval))
	return b.String()
}

func tierLabel(t models.Tier) string {
	switch t {
	case models.TierGrandSlam:
		return "Grand Slam"
	case models.TierMasters:
		return "Masters"
	case models.TierATP500:
		return "500"
	case models.TierATP250:
		return "250"
	default:
		return "regular"
	}
}

// escapeCode makes text safe inside a legacy Markdown code span.
func escapeCode(text string) string {
	return strings.ReplaceAll(text, "`", "'")
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	if hours >= 48 {
		return fmt.Sprintf("%dd", hours/24)
	}
	if hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
