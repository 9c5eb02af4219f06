package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

const (
	// DefaultMaxAttempts is how often a notification is tried before it is marked FAILED
	DefaultMaxAttempts = 5
	// DefaultRatePerMinute caps messages per recipient
	DefaultRatePerMinute = 20
)

// NotificationService delivers outbox notifications to their recipients
type NotificationService interface {
	// Register subscribes the service to every event of d
	Register(d dispatcher.Dispatcher)
	// Deliver sends a freshly committed event. The event carries its outbox id.
	Deliver(ctx context.Context, evt *event.Event) error
	// Redeliver retries PENDING outbox rows older than the redelivery delay
	Redeliver(ctx context.Context, limit int) (int, error)
}

// NotificationOptions tune delivery
type NotificationOptions struct {
	RatePerMinute  int
	MaxAttempts    int
	RedeliverAfter time.Duration
	Now            func() time.Time
}

type notificationServiceImpl struct {
	outbox    port.NotificationOutbox
	directory port.RoleDirectory
	channel   port.NotificationDispatcher
	logger    port.Logger
	opts      NotificationOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	outbox port.NotificationOutbox,
	directory port.RoleDirectory,
	channel port.NotificationDispatcher,
	logger port.Logger,
	opts NotificationOptions,
) NotificationService {
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RedeliverAfter <= 0 {
		opts.RedeliverAfter = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &notificationServiceImpl{
		outbox:    outbox,
		directory: directory,
		channel:   channel,
		logger:    logger,
		opts:      opts,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AllEvents, "notification-service", s.Deliver)
}

func (s *notificationServiceImpl) Deliver(ctx context.Context, evt *event.Event) error {
	id := evt.GetPayloadInt("outbox_id")
	if id == 0 {
		// Not written through the outbox; deliver once without tracking.
		_, err := s.send(ctx, evt)
		return err
	}
	return s.deliver(ctx, id, 0, evt)
}

func (s *notificationServiceImpl) Redeliver(ctx context.Context, limit int) (int, error) {
	pending, err := s.outbox.ListPending(ctx, s.opts.Now().Add(-s.opts.RedeliverAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	delivered := 0
	for _, msg := range pending {
		var evt event.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			s.logger.Error("Dropping undecodable notification", "outbox_id", msg.ID, "error", err)
			if err := s.outbox.MarkFailed(ctx, msg.ID, nil, "undecodable payload: "+err.Error(), true); err != nil {
				return delivered, fmt.Errorf("mark notification failed: %w", err)
			}
			continue
		}
		if len(msg.Recipients) > 0 {
			evt.Recipients = msg.Recipients
		}
		if err := s.deliver(ctx, msg.ID, msg.Attempts, &evt); err != nil {
			s.logger.Warn("Redelivery failed", "outbox_id", msg.ID, "attempts", msg.Attempts+1, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// deliver sends evt and records the outcome on outbox row id. A recipient
// over its rate budget leaves the row PENDING for the redelivery worker, and
// after a partial failure the row keeps only the recipients still owed.
func (s *notificationServiceImpl) deliver(ctx context.Context, id int64, attempts int, evt *event.Event) error {
	sent, err := s.send(ctx, evt)
	if err != nil {
		final := attempts+1 >= s.opts.MaxAttempts
		var remaining []string
		var partial *undelivered
		if errors.As(err, &partial) {
			remaining = partial.recipients
		}
		if markErr := s.outbox.MarkFailed(ctx, id, remaining, err.Error(), final); markErr != nil {
			s.logger.Error("Failed to record notification failure", "outbox_id", id, "error", markErr)
		}
		return err
	}
	if !sent {
		s.logger.Info("Notification deferred by rate limit", "outbox_id", id, "event_type", evt.Type)
		return nil
	}
	if err := s.outbox.MarkSent(ctx, id, s.opts.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// undelivered lists the recipients a send could not reach
type undelivered struct {
	recipients []string
}

func (e *undelivered) Error() string {
	return fmt.Sprintf("send to %s failed", strings.Join(e.recipients, ", "))
}

// send delivers evt to all its recipients. It returns false without sending
// anything if one of them has exhausted its rate budget. Recipients that
// could not be reached come back as an *undelivered error.
func (s *notificationServiceImpl) send(ctx context.Context, evt *event.Event) (bool, error) {
	if len(evt.Recipients) == 0 {
		s.logger.Warn("Notification has no recipients", "event_type", evt.Type, "request", evt.RequestNumber)
		return true, nil
	}
	if !s.reserve(evt.Recipients) {
		return false, nil
	}

	text := Render(evt)
	var failed []string
	for _, userID := range evt.Recipients {
		user, err := s.directory.GetUser(ctx, userID)
		if err != nil {
			s.logger.Error("Failed to look up recipient", "user_id", userID, "error", err)
			failed = append(failed, userID)
			continue
		}
		if user == nil {
			s.logger.Warn("Skipping unknown recipient", "user_id", userID, "event_type", evt.Type)
			continue
		}
		recipient := port.Recipient{UserID: user.ID, LarkOpenID: user.LarkOpenID}
		if err := s.channel.Send(ctx, recipient, text); err != nil {
			s.logger.Error("Failed to send notification",
				"channel", s.channel.Channel(),
				"user_id", userID,
				"event_type", evt.Type,
				"error", err,
			)
			failed = append(failed, userID)
		}
	}
	if len(failed) > 0 {
		return true, &undelivered{recipients: failed}
	}

	s.logger.Info("Notification sent",
		"channel", s.channel.Channel(),
		"event_type", evt.Type,
		"request", evt.RequestNumber,
		"recipients", len(evt.Recipients),
	)
	return true, nil
}

// reserve takes one token from every recipient's limiter, or none at all
func (s *notificationServiceImpl) reserve(recipients []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	limiters := make([]*rate.Limiter, 0, len(recipients))
	for _, r := range recipients {
		l, ok := s.limiters[r]
		if !ok {
			n := s.opts.RatePerMinute
			l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
			s.limiters[r] = l
		}
		if l.TokensAt(now) < 1 {
			return false
		}
		limiters = append(limiters, l)
	}
	for _, l := range limiters {
		l.AllowN(now, 1)
	}
	return true
}

// Render turns an event into the message text shown to recipients
func Render(evt *event.Event) string {
	ref := evt.RequestNumber
	if ref == "" {
		ref = fmt.Sprintf("#%d", evt.RequestID)
	}
	tier := evt.GetPayloadInt("tier")
	role := evt.GetPayloadString("approver_role")
	amount := evt.GetPayloadString("amount")

	var b strings.Builder
	switch evt.Type {
	case event.TypeRequestSubmitted, event.TypeRequestResubmitted:
		fmt.Fprintf(&b, "%s (%s) is waiting for your approval at tier %d (%s).", ref, amount, tier, role)
	case event.TypeRequestAdvanced:
		fmt.Fprintf(&b, "%s (%s) was approved at tier %d and now needs tier %d (%s).",
			ref, amount, evt.GetPayloadInt("from_tier"), tier, role)
	case event.TypeRequestEscalated:
		fmt.Fprintf(&b, "%s (%s) was auto-escalated to tier %d (%s) after sitting unanswered.", ref, amount, tier, role)
	case event.TypeRequestApproved:
		fmt.Fprintf(&b, "%s (%s) has been approved.", ref, amount)
	case event.TypeEmergencyApproval:
		if from := evt.GetPayloadInt("from_tier"); from > 0 {
			fmt.Fprintf(&b, "%s (%s) was approved at tier %d as an emergency (%s) and now needs tier %d (%s).",
				ref, amount, from, evt.GetPayloadString("emergency_reason"), tier, role)
		} else {
			fmt.Fprintf(&b, "%s (%s) was approved as an emergency: %s", ref, amount, evt.GetPayloadString("emergency_reason"))
		}
	case event.TypeRequestRejected:
		fmt.Fprintf(&b, "%s was rejected: %s", ref, evt.GetPayloadString("comment"))
	case event.TypeClarificationRequested:
		fmt.Fprintf(&b, "%s needs clarification: %s", ref, evt.GetPayloadString("comment"))
	case event.TypeRequestWithdrawn:
		fmt.Fprintf(&b, "%s was withdrawn by the requester.", ref)
	case event.TypeRequestPaid:
		fmt.Fprintf(&b, "%s (%s) has been paid out.", ref, amount)
	case event.TypeApprovalStalled:
		if reason := evt.GetPayloadString("blocked_reason"); reason != "" {
			fmt.Fprintf(&b, "%s is overdue at tier %d (%s) and cannot escalate: %s. Pending since %s.",
				ref, tier, role, reason, evt.GetPayloadString("pending_since"))
			break
		}
		fmt.Fprintf(&b, "%s is overdue at the highest tier %d (%s) and needs manual follow-up. Pending since %s.",
			ref, tier, role, evt.GetPayloadString("pending_since"))
	case event.TypePreApprovalRequested:
		fmt.Fprintf(&b, "Pre-approval %s (%s) for %q is waiting for your decision.",
			ref, evt.GetPayloadString("estimated_amount"), evt.GetPayloadString("purpose"))
	case event.TypePreApprovalDecided:
		fmt.Fprintf(&b, "Pre-approval %s is now %s.", ref, evt.GetPayloadString("status"))
	case event.TypeDelegationCreated:
		fmt.Fprintf(&b, "%s delegated approvals to %s from %s until %s.",
			evt.GetPayloadString("from_user_id"), evt.GetPayloadString("to_user_id"),
			evt.GetPayloadString("start_date"), evt.GetPayloadString("end_date"))
	case event.TypeDelegationRevoked:
		fmt.Fprintf(&b, "The delegation from %s to %s was revoked.",
			evt.GetPayloadString("from_user_id"), evt.GetPayloadString("to_user_id"))
	default:
		fmt.Fprintf(&b, "%s: %s", ref, evt.Type)
	}
	return b.String()
}
