package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"

	"golang-backtest/config"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/utils"
)

// Telegram rejects messages longer than 4096 characters; leave headroom for
// the HTML tags.
const maxMessageLen = 3800

// Notifier pushes run summaries to a fixed chat. It only ever sends, so the
// bot runs without a poller.
type Notifier struct {
	cfg           *config.TelegramConfig
	log           *logger.Logger
	bot           *telebot.Bot
	globalLimiter *rate.Limiter
}

func NewNotifier(cfg *config.TelegramConfig, log *logger.Logger, bot *telebot.Bot) *Notifier {
	return &Notifier{
		cfg:           cfg,
		log:           log,
		bot:           bot,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.MaxGlobalRequestPerSecond), cfg.MaxGlobalRequestPerSecond),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg.Enabled && n.bot != nil
}

// Send delivers HTML-formatted text to the configured chat, splitting on
// newlines when it exceeds the Telegram message limit.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := n.globalLimiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := n.bot.Send(&telebot.Chat{ID: n.cfg.ChatID}, chunk, telebot.ModeHTML); err != nil {
			n.log.ErrorContext(ctx, "Failed to send telegram notification", logger.ErrorField(err))
			return err
		}
	}
	return nil
}

// RunSummary is the condensed outcome of a completed run.
type RunSummary struct {
	RunID         uint
	Mode          string
	Symbol        string
	Winner        string
	RiskScale     float64
	DDCap         float64
	AvgCAGR       float64
	StitchedMaxDD float64
	HoldoutMaxDD  float64
	PassedFolds   int
	ValidFolds    int
	Duration      time.Duration
}

// FormatRunCompleted renders the completion notification. An empty Winner
// means no candidate satisfied the drawdown constraints.
func FormatRunCompleted(s RunSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ <b>Backtest run #%d completed</b>\n", s.RunID))
	sb.WriteString(fmt.Sprintf("📊 %s — mode: %s\n", html.EscapeString(s.Symbol), html.EscapeString(s.Mode)))

	if s.Winner == "" {
		sb.WriteString(fmt.Sprintf("⚠️ No strategy passed the %s drawdown cap\n", utils.FormatPercentage(s.DDCap)))
	} else {
		sb.WriteString(fmt.Sprintf("🏆 Winner: <b>%s</b> (risk_scale=%v)\n", html.EscapeString(s.Winner), s.RiskScale))
		sb.WriteString(fmt.Sprintf("📈 Avg OOS CAGR: %s\n", utils.FormatPercentage(s.AvgCAGR)))
		sb.WriteString(fmt.Sprintf("📉 Stitched OOS MaxDD: %s (cap %s)\n",
			utils.FormatPercentage(s.StitchedMaxDD), utils.FormatPercentage(s.DDCap)))
		sb.WriteString(fmt.Sprintf("🔒 Holdout MaxDD: %s\n", utils.FormatPercentage(s.HoldoutMaxDD)))
		sb.WriteString(fmt.Sprintf("🧪 DD-pass folds: %d/%d\n", s.PassedFolds, s.ValidFolds))
	}

	sb.WriteString(fmt.Sprintf("⏱ took %s", s.Duration.Round(time.Second)))
	return sb.String()
}

// ClassicSummary is the condensed outcome of an unconstrained walk-forward
// comparison run.
type ClassicSummary struct {
	RunID       uint
	Symbol      string
	Strategies  int
	Winner      string
	AvgCalmar   float64
	AvgCAGR     float64
	HoldoutCAGR float64
	Duration    time.Duration
}

func FormatClassicCompleted(s ClassicSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ <b>Walk-forward run #%d completed</b>\n", s.RunID))
	sb.WriteString(fmt.Sprintf("📊 %s — %d strategies compared\n", html.EscapeString(s.Symbol), s.Strategies))
	if s.Winner != "" {
		sb.WriteString(fmt.Sprintf("🏆 Best by avg OOS Calmar: <b>%s</b> (%s)\n",
			html.EscapeString(s.Winner), utils.FormatRatio(s.AvgCalmar)))
		sb.WriteString(fmt.Sprintf("📈 Avg OOS CAGR: %s, holdout CAGR: %s\n",
			utils.FormatPercentage(s.AvgCAGR), utils.FormatPercentage(s.HoldoutCAGR)))
	}
	sb.WriteString(fmt.Sprintf("⏱ took %s", s.Duration.Round(time.Second)))
	return sb.String()
}

func FormatSweepCompleted(runID uint, symbol string, caps int, winners int, duration time.Duration) string {
	return fmt.Sprintf(`✅ <b>Sweep run #%d completed</b>
📊 %s — %d caps evaluated, %d with an admissible winner
⏱ took %s`,
		runID, html.EscapeString(symbol), caps, winners, duration.Round(time.Second))
}

func FormatRunFailed(runID uint, mode, symbol, errMsg string, at time.Time) string {
	return fmt.Sprintf(`📛 <b>Backtest run #%d failed</b>
📊 %s — mode: %s
⚠️ %s
🕒 %s`,
		runID, html.EscapeString(symbol), html.EscapeString(mode),
		html.EscapeString(errMsg), at.Format("2006-01-02 15:04:05"))
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if sb.Len() > 0 && sb.Len()+len(line)+1 > limit {
			chunks = append(chunks, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	if sb.Len() > 0 {
		chunks = append(chunks, sb.String())
	}
	return chunks
}
