package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults applied by NewService.
const (
	DefaultThrottleWindow = 30 * time.Minute
	DefaultMaxConcurrent  = 4
	DefaultChannel        = "email"
)

// Mailer sends one rendered message and returns the provider's message
// id. Implementations live in internal/mailer.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
}

// EventInput is one incoming operational event before persistence.
type EventInput struct {
	WebsiteID string
	EventType string
	Severity  Severity
	Title     string
	Summary   string
	Payload   map[string]interface{}
	DedupKey  string
}

// ServiceConfig configures a notification Service.
type ServiceConfig struct {
	Repository Repository
	Mailer     Mailer
	Logger     zerolog.Logger

	// MaxConcurrent bounds parallel provider sends during fan-out.
	MaxConcurrent int

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Service runs the notification pipeline: persist, gate, throttle,
// fan out, re-arm.
type Service struct {
	repo          Repository
	mailer        Mailer
	logger        zerolog.Logger
	maxConcurrent int
	now           func() time.Time
}

// NewService creates a notification Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:          cfg.Repository,
		mailer:        cfg.Mailer,
		logger:        cfg.Logger,
		maxConcurrent: cfg.MaxConcurrent,
		now:           cfg.Now,
	}
}

// ProcessEvent runs one event through the full pipeline. The event is
// always persisted, even when every later gate stops delivery; the
// returned ProcessResult says which gate (if any) fired.
func (s *Service) ProcessEvent(ctx context.Context, input EventInput) (*ProcessResult, error) {
	now := s.now()

	event := &Event{
		ID:        "nev_" + uuid.New().String()[:22],
		WebsiteID: input.WebsiteID,
		EventType: input.EventType,
		Severity:  input.Severity,
		Title:     input.Title,
		Summary:   input.Summary,
		Payload:   input.Payload,
		DedupKey:  input.DedupKey,
		CreatedAt: now,
	}
	if !event.Severity.Valid() {
		event.Severity = SeverityInfo
	}

	if err := s.repo.SaveEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("saving notification event: %w", err)
	}

	result := &ProcessResult{OK: true, EventID: event.ID}

	// Quiet hours suppress everything below critical. The event stays
	// recorded; nothing is sent and no suppression window is armed.
	if event.Severity != SeverityCritical {
		quiet, err := s.inQuietHours(ctx, event.WebsiteID, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("website_id", event.WebsiteID).
				Msg("Quiet hours lookup failed, continuing without quiet hours")
		} else if quiet {
			result.QuietHours = true
			s.logger.Info().Str("event_id", event.ID).Str("website_id", event.WebsiteID).
				Msg("Notification held by quiet hours")
			return result, nil
		}
	}

	if event.DedupKey != "" {
		suppression, err := s.repo.ActiveSuppression(ctx, event.WebsiteID, event.DedupKey, now)
		if err != nil {
			return nil, fmt.Errorf("checking suppression: %w", err)
		}
		if suppression != nil {
			result.Suppressed = true
			s.logger.Info().Str("event_id", event.ID).Str("dedup_key", event.DedupKey).
				Time("suppressed_until", suppression.SuppressedUntil).
				Msg("Notification suppressed by active dedup window")
			return result, nil
		}
	}

	minSeverity, throttle, err := s.resolveRule(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resolving notification rule: %w", err)
	}
	if !event.Severity.Meets(minSeverity) {
		s.logger.Debug().Str("event_id", event.ID).
			Str("severity", string(event.Severity)).Str("min_severity", string(minSeverity)).
			Msg("Notification below rule severity threshold")
		return result, nil
	}

	recipients, err := s.repo.ListRecipients(ctx, event.WebsiteID)
	if err != nil {
		return nil, fmt.Errorf("listing recipients: %w", err)
	}
	if len(recipients) == 0 {
		s.logger.Info().Str("event_id", event.ID).Str("website_id", event.WebsiteID).
			Msg("No enabled recipients for website")
		return result, nil
	}

	message := RenderMessage(event)
	created, sent := s.fanOut(ctx, event, message, recipients)
	result.DeliveriesCreated = created
	result.DeliveriesSent = sent

	// Re-arm the window after sending so the next identical event
	// inside it is suppressed rather than redelivered.
	if event.DedupKey != "" && throttle > 0 {
		suppression := &Suppression{
			WebsiteID:       event.WebsiteID,
			DedupKey:        event.DedupKey,
			SuppressedUntil: now.Add(throttle),
			Reason:          "throttle window after delivery",
		}
		if err := s.repo.CreateSuppression(ctx, suppression); err != nil {
			s.logger.Error().Err(err).Str("event_id", event.ID).
				Msg("Failed to arm suppression window")
		}
	}

	return result, nil
}

// resolveRule returns the first enabled matching rule's threshold and
// throttle window, or the defaults when no rule matches.
func (s *Service) resolveRule(ctx context.Context, event *Event) (Severity, time.Duration, error) {
	rules, err := s.repo.ListRules(ctx, event.WebsiteID, event.EventType)
	if err != nil {
		return "", 0, err
	}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		throttle := rule.ThrottleWindow
		if throttle <= 0 {
			throttle = DefaultThrottleWindow
		}
		minSeverity := rule.MinSeverity
		if !minSeverity.Valid() {
			minSeverity = SeverityInfo
		}
		return minSeverity, throttle, nil
	}
	return SeverityInfo, DefaultThrottleWindow, nil
}

// fanOut sends the message to every recipient with bounded concurrency
// and records one delivery row per attempt. A provider failure for one
// recipient never stops the others.
func (s *Service) fanOut(ctx context.Context, event *Event, message Message, recipients []Recipient) (created, sent int) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, s.maxConcurrent)
	)

	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient Recipient) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			delivery := &Delivery{
				ID:           "del_" + uuid.New().String()[:22],
				EventID:      event.ID,
				Channel:      DefaultChannel,
				Recipient:    recipient.Address,
				Subject:      message.Subject,
				Status:       DeliverySent,
				AttemptCount: 1,
				CreatedAt:    s.now(),
			}

			messageID, err := s.mailer.Send(ctx, recipient.Address, message.Subject, message.HTML, message.Text)
			if err != nil {
				delivery.Status = DeliveryFailed
				delivery.ErrorDetail = err.Error()
				s.logger.Error().Err(err).Str("event_id", event.ID).Str("recipient", recipient.Address).
					Msg("Notification delivery failed")
			} else {
				delivery.ProviderMessageID = messageID
			}

			if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
				s.logger.Error().Err(err).Str("event_id", event.ID).
					Msg("Failed to record notification delivery")
			}

			mu.Lock()
			created++
			if delivery.Status == DeliverySent {
				sent++
			}
			mu.Unlock()
		}(recipient)
	}

	wg.Wait()
	return created, sent
}

// inQuietHours reports whether now falls inside the site's quiet-hours
// window, evaluated in the site's own timezone. Sites without settings
// or without a configured window are never quiet.
func (s *Service) inQuietHours(ctx context.Context, websiteID string, now time.Time) (bool, error) {
	settings, err := s.repo.SiteSettings(ctx, websiteID)
	if err != nil {
		return false, err
	}
	if settings == nil || settings.QuietHoursStart == "" || settings.QuietHoursEnd == "" {
		return false, nil
	}

	location := time.UTC
	if settings.Timezone != "" {
		location, err = time.LoadLocation(settings.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid site timezone %q: %w", settings.Timezone, err)
		}
	}

	start, err := parseClock(settings.QuietHoursStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(settings.QuietHoursEnd)
	if err != nil {
		return false, err
	}
	if start == end {
		return false, nil
	}

	local := now.In(location)
	minute := local.Hour()*60 + local.Minute()

	// A window that crosses midnight, e.g. 22:00-06:00, covers the late
	// evening and early morning rather than an empty range.
	if start < end {
		return minute >= start && minute < end, nil
	}
	return minute >= start || minute < end, nil
}

// parseClock converts "HH:MM" to minutes past midnight.
func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid quiet hours time %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
