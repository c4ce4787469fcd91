package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/signal"
)

// Update 描述一次状态变更的跟进消息。
type Update struct {
	CandidateID string
	Instrument  string
	Direction   signal.Direction
	From        signal.State
	To          signal.State
	Result      signal.Result
	Price       decimal.NullDecimal
	At          time.Time
	Reason      string
}

// UpdateFor builds the follow-up for a transition applied to c.
func UpdateFor(c signal.Candidate, t signal.Transition) Update {
	return Update{
		CandidateID: c.ID,
		Instrument:  c.Instrument,
		Direction:   c.Direction,
		From:        t.From,
		To:          t.To,
		Result:      t.Result,
		Price:       t.Price,
		At:          t.At,
		Reason:      t.Reason,
	}
}

// Notifier 定义告警输送接口。
//
// Announce publishes a new candidate and returns the channel reference of the
// message. FollowUp threads an update onto that reference.
type Notifier interface {
	Announce(ctx context.Context, c signal.Candidate) (string, error)
	FollowUp(ctx context.Context, ref string, u Update) error
}

func renderAnnouncement(c signal.Candidate) string {
	builder := strings.Builder{}
	builder.WriteString("[Structure Signal]\n")
	builder.WriteString(fmt.Sprintf("%s %s %s\n", c.Instrument, c.Timeframe, c.Direction))
	builder.WriteString(fmt.Sprintf("Entry: %s\n", c.EntryPrice.String()))
	builder.WriteString(fmt.Sprintf("Take profit: %s\n", c.TakeProfit.String()))
	builder.WriteString(fmt.Sprintf("Stop loss: %s\n", c.StopLoss.String()))
	builder.WriteString(fmt.Sprintf("Score: %.2f (raw %.2f)\n", c.ReleaseScore, c.RawConfidence))
	builder.WriteString(fmt.Sprintf("Entry window: until %s UTC\n", c.EntryDeadline.UTC().Format("2006-01-02 15:04")))
	builder.WriteString(fmt.Sprintf("Trade window: until %s UTC\n", c.TradeDeadline.UTC().Format("2006-01-02 15:04")))
	if len(c.Evidence) > 0 {
		builder.WriteString("Evidence:\n")
		for _, e := range c.Evidence {
			builder.WriteString("- " + e + "\n")
		}
	}
	return strings.TrimRight(builder.String(), "\n")
}

func renderUpdate(u Update) string {
	var headline string
	switch u.To {
	case signal.EntryHit:
		headline = "Entry touched"
	case signal.TPHit:
		headline = "Take profit hit"
	case signal.SLHit:
		headline = "Stop loss hit"
	case signal.TimeExit:
		headline = "Closed on time exit"
	case signal.Cancelled:
		headline = "Cancelled, entry not reached"
	case signal.ClosedManual:
		headline = "Closed by operator"
	default:
		headline = string(u.To)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s: %s", u.Instrument, u.Direction, headline))
	if u.Price.Valid {
		builder.WriteString(fmt.Sprintf(" @ %s", u.Price.Decimal.String()))
	}
	if u.Result != "" && u.Result != signal.ResultNone {
		builder.WriteString(fmt.Sprintf(" (%s)", u.Result))
	}
	builder.WriteString(fmt.Sprintf("\n%s UTC", u.At.UTC().Format("2006-01-02 15:04")))
	if u.Reason != "" {
		builder.WriteString("\n" + u.Reason)
	}
	return builder.String()
}
