package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/AuthGo/pkg/kafka"
)

// Kafka topic constants for auth domain events.
const (
	TopicUserLoggedIn    = "auth.user.logged_in"
	TopicSessionRevoked  = "auth.session.revoked"
	TopicAccountLocked   = "auth.account.locked"
	TopicPasswordChanged = "auth.password.changed"
)

// Aggregate type constant.
const AggregateTypeSession = "session"

// Source identifier for events originating from the auth service.
const SourceAuthService = "auth-service"

// UserLoggedInData is the payload for an auth.user.logged_in event.
type UserLoggedInData struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	SessionID  string `json:"session_id"`
	DeviceName string `json:"device_name,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// SessionRevokedData is the payload for an auth.session.revoked event.
type SessionRevokedData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Count     int64  `json:"count"`
}

// AccountLockedData is the payload for an auth.account.locked event.
type AccountLockedData struct {
	Email          string `json:"email"`
	FailedAttempts int64  `json:"failed_attempts"`
	LockoutSeconds int64  `json:"lockout_seconds"`
}

// PasswordChangedData is the payload for an auth.password.changed event.
type PasswordChangedData struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	SessionsRevoked int64  `json:"sessions_revoked"`
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserLoggedIn publishes an auth.user.logged_in event.
func (p *Producer) PublishUserLoggedIn(ctx context.Context, data UserLoggedInData) error {
	event, err := pkgkafka.NewEvent(TopicUserLoggedIn, data.SessionID, AggregateTypeSession, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.logged_in event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserLoggedIn, event); err != nil {
		return fmt.Errorf("publish user.logged_in event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.logged_in event",
		slog.String("user_id", data.UserID),
		slog.String("session_id", data.SessionID),
	)

	return nil
}

// PublishSessionRevoked publishes an auth.session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, data SessionRevokedData) error {
	aggregateID := data.SessionID
	if aggregateID == "" {
		aggregateID = data.UserID
	}

	event, err := pkgkafka.NewEvent(TopicSessionRevoked, aggregateID, AggregateTypeSession, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create session.revoked event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSessionRevoked, event); err != nil {
		return fmt.Errorf("publish session.revoked event: %w", err)
	}

	p.logger.DebugContext(ctx, "published session.revoked event",
		slog.String("user_id", data.UserID),
		slog.String("reason", data.Reason),
	)

	return nil
}

// PublishAccountLocked publishes an auth.account.locked event.
func (p *Producer) PublishAccountLocked(ctx context.Context, data AccountLockedData) error {
	event, err := pkgkafka.NewEvent(TopicAccountLocked, data.Email, "account", SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create account.locked event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicAccountLocked, event); err != nil {
		return fmt.Errorf("publish account.locked event: %w", err)
	}

	p.logger.WarnContext(ctx, "published account.locked event",
		slog.String("email", data.Email),
		slog.Int64("failed_attempts", data.FailedAttempts),
	)

	return nil
}

// PublishPasswordChanged publishes an auth.password.changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, data PasswordChangedData) error {
	event, err := pkgkafka.NewEvent(TopicPasswordChanged, data.UserID, "account", SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create password.changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicPasswordChanged, event); err != nil {
		return fmt.Errorf("publish password.changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published password.changed event",
		slog.String("user_id", data.UserID),
		slog.Int64("sessions_revoked", data.SessionsRevoked),
	)

	return nil
}
