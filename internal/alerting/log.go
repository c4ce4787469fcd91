package alerting

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"structure-signals/internal/signal"
)

// LogNotifier writes announcements to the log instead of a chat. It backs
// replay runs and deployments without a configured channel.
type LogNotifier struct {
	seq    atomic.Int64
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Announce logs the candidate and returns a sequential ref.
func (n *LogNotifier) Announce(_ context.Context, c signal.Candidate) (string, error) {
	ref := fmt.Sprintf("log-%d", n.seq.Add(1))
	n.logger.Info().
		Str("candidate_id", c.ID).
		Str("instrument", c.Instrument).
		Str("direction", string(c.Direction)).
		Str("ref", ref).
		Msg(renderAnnouncement(c))
	return ref, nil
}

// FollowUp logs the update.
func (n *LogNotifier) FollowUp(_ context.Context, ref string, u Update) error {
	n.logger.Info().
		Str("candidate_id", u.CandidateID).
		Str("ref", ref).
		Str("to", string(u.To)).
		Msg(renderUpdate(u))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
