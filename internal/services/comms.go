package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// RenderedMessage is the preview the engine reads back after a send
type RenderedMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CommsGateway is the communications collaborator contract. The engine
// requests sends and reads back rendered previews; template rendering and
// actual delivery belong to the collaborator.
type CommsGateway interface {
	Emit(ctx context.Context, orgID uint, runStepID *uint, templateKey string, channel models.CommChannel, recipients []models.Recipient, variables models.JSONMap) ([]*models.OutboxEntry, error)
	RenderPreview(ctx context.Context, orgID uint, templateKey string, channel models.CommChannel, variables models.JSONMap) (*RenderedMessage, error)
}

// OutboxCommsGateway renders org templates and records one outbox entry per
// recipient for the delivery subsystem to pick up. Sends pass through a
// per-org circuit breaker so a struggling delivery backend sheds load fast.
type OutboxCommsGateway struct {
	comms    repositories.CommRepository
	logger   *zap.Logger
	breakers sync.Map // map[uint]*gobreaker.CircuitBreaker
}

// NewOutboxCommsGateway creates the outbox-backed communications gateway
func NewOutboxCommsGateway(comms repositories.CommRepository, logger *zap.Logger) *OutboxCommsGateway {
	return &OutboxCommsGateway{
		comms:  comms,
		logger: logger,
	}
}

// Emit renders the template for every recipient and records the handoff.
// The returned entries carry the rendered subject/body and provider message
// ids the engine stores for audit.
func (g *OutboxCommsGateway) Emit(ctx context.Context, orgID uint, runStepID *uint, templateKey string, channel models.CommChannel, recipients []models.Recipient, variables models.JSONMap) ([]*models.OutboxEntry, error) {
	template, err := g.comms.GetTemplate(ctx, orgID, templateKey, channel)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, templateKey, channel)
	}

	subject := renderTemplate(template.Subject, variables)
	body := renderTemplate(template.Body, variables)

	entries := make([]*models.OutboxEntry, 0, len(recipients))
	for _, recipient := range recipients {
		entries = append(entries, &models.OutboxEntry{
			OrgID:             orgID,
			RunStepID:         runStepID,
			Channel:           channel,
			TemplateKey:       templateKey,
			Recipient:         recipient.Identity(channel),
			Subject:           subject,
			Body:              body,
			ProviderMessageID: uuid.New().String(),
			Status:            "queued",
		})
	}

	cb := g.getCircuitBreaker(orgID)
	if _, err := cb.Execute(func() (interface{}, error) {
		return nil, g.comms.CreateOutboxEntries(ctx, entries)
	}); err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrCommsUnavailable, err)
		}
		return nil, fmt.Errorf("failed to emit communication: %w", err)
	}

	return entries, nil
}

// RenderPreview renders the template without recording or sending anything
func (g *OutboxCommsGateway) RenderPreview(ctx context.Context, orgID uint, templateKey string, channel models.CommChannel, variables models.JSONMap) (*RenderedMessage, error) {
	template, err := g.comms.GetTemplate(ctx, orgID, templateKey, channel)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, templateKey, channel)
	}

	return &RenderedMessage{
		Subject: renderTemplate(template.Subject, variables),
		Body:    renderTemplate(template.Body, variables),
	}, nil
}

// getCircuitBreaker gets or creates the circuit breaker for an org
func (g *OutboxCommsGateway) getCircuitBreaker(orgID uint) *gobreaker.CircuitBreaker {
	if cb, ok := g.breakers.Load(orgID); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("comms-org-%d", orgID),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Info("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	g.breakers.Store(orgID, cb)

	return cb
}

// renderTemplate substitutes {{key}} placeholders from the variable bag
func renderTemplate(text string, variables models.JSONMap) string {
	rendered := text
	for key, value := range variables {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", toString(value))
	}
	return rendered
}
