package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/log"
	"github.com/boweazy/smartflow/internal/metrics"
	"github.com/boweazy/smartflow/internal/notify"
	"github.com/boweazy/smartflow/internal/retry"
	"github.com/boweazy/smartflow/internal/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Poller is the single background task of the process. Every PollInterval it
// scans the store for due work: scheduled posts past their publish time and
// confirmed bookings inside the reminder window. External calls run outside
// the store lock and under their own timeout; one bad record never aborts a
// cycle and no cycle ever kills the loop.
type Poller struct {
	store     *store.FileStore
	publisher notify.Publisher
	notifiers map[string]notify.Notifier
	tracker   *retry.Tracker
	metrics   *metrics.SchedulerMetrics
	cfg       *config.Config
	logger    *log.Logger
	cb        *gobreaker.CircuitBreaker
}

func NewPoller(st *store.FileStore, publisher notify.Publisher, notifiers map[string]notify.Notifier,
	tracker *retry.Tracker, m *metrics.SchedulerMetrics, cfg *config.Config, logger *log.Logger) *Poller {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publisher",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Poller{
		store:     st,
		publisher: publisher,
		notifiers: notifiers,
		tracker:   tracker,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		cb:        cb,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller shutting down")
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle runs one poll pass. Exported so tests and the admin surface can
// force a pass without waiting out the interval. Panics are recovered per
// record in publishOne/remindOne, so one bad record never skips the rest
// of the cycle; this recover is the last line for everything outside them.
func (p *Poller) Cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poll cycle panicked", zap.Any("panic", r))
		}
	}()

	now := time.Now().UTC()
	p.publishDue(ctx, now)
	p.remindDue(ctx, now)
	p.metrics.PollCycles.Inc()
}

func (p *Poller) publishDue(ctx context.Context, now time.Time) {
	posts, err := p.store.ListPosts(store.StatusScheduled)
	if err != nil {
		p.logger.Error("Failed to list scheduled posts", zap.Error(err))
		return
	}
	for _, post := range posts {
		if post.ScheduledAt.After(now) {
			continue
		}
		if err := p.publishOne(ctx, post); err != nil {
			p.logger.Error("Failed to process due post", zap.Error(err), zap.Int64("id", post.ID))
		}
	}
}

// publishOne performs the one-shot publish: the post leaves "scheduled" for
// a terminal status on the first real attempt. A rejected call while the
// breaker is open is not an attempt; the post stays scheduled for the next
// cycle.
func (p *Poller) publishOne(ctx context.Context, post store.Post) error {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Publish panicked", zap.Any("panic", r), zap.Int64("id", post.ID))
		}
	}()

	token, _, err := p.store.AccessToken(post.Platform)
	if err != nil {
		return fmt.Errorf("look up access token: %w", err)
	}

	content := post.Content
	if len(post.Hashtags) > 0 {
		content = content + "\n" + strings.Join(post.Hashtags, " ")
	}

	externalID, err := p.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		defer cancel()
		return p.publisher.Publish(callCtx, post.Platform, content, token)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.logger.Warn("Publisher breaker open, deferring post", zap.Int64("id", post.ID))
		return nil
	}
	if err != nil {
		msg := err.Error()
		post.Status = store.StatusFailed
		post.Error = &msg
		p.metrics.PublishTotal.WithLabelValues(post.Platform, "failed").Inc()
		if uerr := p.store.UpdatePost(post); uerr != nil {
			return fmt.Errorf("mark post failed: %w", uerr)
		}
		p.logger.Warn("Post failed to publish", zap.Int64("id", post.ID), zap.String("error", msg))
		return nil
	}

	id := externalID.(string)
	post.Status = store.StatusPublished
	post.ExternalID = &id
	post.Error = nil
	p.metrics.PublishTotal.WithLabelValues(post.Platform, "published").Inc()
	if err := p.store.UpdatePost(post); err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	p.logger.Info("Published post", zap.Int64("id", post.ID), zap.String("external_id", id))
	return nil
}

func (p *Poller) remindDue(ctx context.Context, now time.Time) {
	bookings, err := p.store.ListBookings(store.StatusConfirmed)
	if err != nil {
		p.logger.Error("Failed to list confirmed bookings", zap.Error(err))
		return
	}
	for _, booking := range bookings {
		if now.Before(booking.StartsAt.Add(-p.cfg.ReminderLead)) {
			continue
		}
		if !booking.StartsAt.After(now) {
			// Appointment already started; a reminder now is noise.
			continue
		}
		for channel, recipient := range p.recipients(booking) {
			if err := p.remindOne(ctx, booking, channel, recipient, now); err != nil {
				p.logger.Error("Failed to process reminder", zap.Error(err),
					zap.Int64("id", booking.ID), zap.String("channel", channel))
			}
		}
	}
}

func (p *Poller) recipients(b store.Booking) map[string]string {
	out := make(map[string]string)
	if p.cfg.EmailEnabled && b.Email != "" {
		out[store.ChannelEmail] = b.Email
	}
	if p.cfg.SMSEnabled && b.Phone != "" {
		out[store.ChannelSMS] = b.Phone
	}
	return out
}

// remindOne delivers at-least-once: the log entry is written only after the
// send succeeded, and until it exists the booking stays eligible, paced by
// the backoff tracker.
func (p *Poller) remindOne(ctx context.Context, booking store.Booking, channel, recipient string, now time.Time) error {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Reminder panicked", zap.Any("panic", r),
				zap.Int64("id", booking.ID), zap.String("channel", channel))
		}
	}()

	logged, err := p.store.HasLog(booking.ID, channel, store.KindBookingReminder)
	if err != nil {
		return fmt.Errorf("check action log: %w", err)
	}
	if logged {
		return nil
	}
	if !p.tracker.Ready(booking.ID, channel, now) {
		p.metrics.ReminderTotal.WithLabelValues(channel, "skipped").Inc()
		return nil
	}
	notifier, ok := p.notifiers[channel]
	if !ok {
		return fmt.Errorf("no notifier for channel %s", channel)
	}

	content := fmt.Sprintf("Reminder: %s for %s at %s.",
		booking.Service, booking.CustomerName, booking.StartsAt.Format("Mon 2 Jan 15:04 MST"))

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	externalID, err := notifier.Send(callCtx, recipient, content)
	cancel()
	if err != nil {
		p.tracker.RecordFailure(booking.ID, channel, now)
		p.metrics.ReminderTotal.WithLabelValues(channel, "failed").Inc()
		p.logger.Warn("Reminder send failed", zap.Error(err),
			zap.Int64("id", booking.ID), zap.String("channel", channel))
		return nil
	}

	entry := store.ActionLog{
		RecordID: booking.ID,
		Channel:  channel,
		Kind:     store.KindBookingReminder,
		SentAt:   now,
	}
	if externalID != "" {
		entry.ExternalID = &externalID
	}
	if err := p.store.AddLog(entry); err != nil {
		// Send succeeded but the log write failed. The next cycle will
		// resend; the channel contract is at-least-once for exactly this
		// reason.
		return fmt.Errorf("record action log: %w", err)
	}
	p.tracker.Clear(booking.ID, channel)
	p.metrics.ReminderTotal.WithLabelValues(channel, "sent").Inc()
	p.logger.Info("Sent reminder", zap.Int64("id", booking.ID), zap.String("channel", channel))
	return nil
}
