package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/KonradBrave61/session-service/internal/events"
)

// AuditService records auth lifecycle events to the structured log. The
// ledger itself is the durable audit trail for refresh identities; this
// service covers the transient operations around it.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	return &AuditService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventUserRegistered, a.handleSessionOpened)
	a.dispatcher.Subscribe(events.EventUserLoggedIn, a.handleSessionOpened)
	a.dispatcher.Subscribe(events.EventTokenRefreshed, a.handleTokenRefreshed)
	a.dispatcher.Subscribe(events.EventUserLoggedOut, a.handleUserLoggedOut)
	a.dispatcher.Subscribe(events.EventRefreshReplay, a.handleRefreshReplay)
	a.dispatcher.Subscribe(events.EventLoginRateLimited, a.handleRateLimited)
}

func (a *AuditService) handleSessionOpened(ctx context.Context, event events.Event) error {
	a.logger.Info("session opened",
		zap.String("event", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleTokenRefreshed(ctx context.Context, event events.Event) error {
	a.logger.Info("refresh token rotated",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleUserLoggedOut(ctx context.Context, event events.Event) error {
	a.logger.Info("session closed",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleRefreshReplay(ctx context.Context, event events.Event) error {
	// A replayed jti means a rotated token was presented again: either a
	// client bug or a stolen cookie.
	a.logger.Warn("refresh token replay denied",
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleRateLimited(ctx context.Context, event events.Event) error {
	a.logger.Warn("login rate limited", zap.Any("payload", event.Payload))
	return nil
}
