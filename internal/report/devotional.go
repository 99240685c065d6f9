package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ewhitmore/vigil/internal/reminder"
)

// Source produces the day's devotional text. The generation itself lives
// outside the engine; a Source is typically a thin HTTP or file adapter.
type Source interface {
	Devotional(ctx context.Context, day time.Time) (string, error)
}

// Poster relays a daily devotional from a Source to the community channel.
type Poster struct {
	source  Source
	queue   Notifier
	logger  *slog.Logger
	channel string
}

func NewPoster(source Source, queue Notifier, channel string, logger *slog.Logger) *Poster {
	return &Poster{source: source, queue: queue, logger: logger, channel: channel}
}

// Configured reports whether there is both a source and a channel to post to.
func (p *Poster) Configured() bool {
	return p.source != nil && p.channel != ""
}

// PostDaily fetches the devotional for the given day and enqueues it. An
// empty text is a deliberate skip, not an error.
func (p *Poster) PostDaily(ctx context.Context, day time.Time) error {
	if !p.Configured() {
		return nil
	}

	text, err := p.source.Devotional(ctx, day)
	if err != nil {
		return fmt.Errorf("devotional for %s: %w", day.Format("2006-01-02"), err)
	}
	if text == "" {
		p.logger.Debug("devotional source returned nothing, skipping post", "day", day.Format("2006-01-02"))
		return nil
	}

	p.queue.Enqueue(p.channel, text, reminder.PriorityLow)
	return nil
}
