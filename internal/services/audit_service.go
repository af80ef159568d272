package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
)

// AuditRecorder is the audit collaborator contract. Recording is
// fire-and-forget from the engine's perspective: failures are logged by the
// implementation and must never abort rule execution.
type AuditRecorder interface {
	Record(ctx context.Context, orgID uint, actorID *uint, action, entityType, entityID string, before, after models.JSONMap)
}

// AuditService writes HMAC-signed audit rows for mutations the engine
// performs on collaborator state.
type AuditService struct {
	audits    repositories.AuditRepository
	secretKey []byte
	logger    *zap.Logger
}

// NewAuditService creates an audit service
func NewAuditService(audits repositories.AuditRepository, secretKey string, logger *zap.Logger) *AuditService {
	return &AuditService{
		audits:    audits,
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

// Record persists one audit entry. Errors are logged and swallowed.
func (s *AuditService) Record(ctx context.Context, orgID uint, actorID *uint, action, entityType, entityID string, before, after models.JSONMap) {
	entry := &models.AuditLog{
		OrgID:      orgID,
		ActorID:    actorID,
		ActorType:  "system",
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
	}
	entry.Signature = s.sign(entry)

	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry",
			zap.Uint("org_id", orgID),
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Error(err))
	}
}

// sign computes the tamper-protection HMAC over the entry's identifying fields
func (s *AuditService) sign(entry *models.AuditLog) string {
	beforeJSON, _ := json.Marshal(entry.Before)
	afterJSON, _ := json.Marshal(entry.After)
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		entry.OrgID,
		entry.ActorType,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		string(beforeJSON),
		string(afterJSON),
	)

	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
