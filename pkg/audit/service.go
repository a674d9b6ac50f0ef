// Package audit owns the per-recommendation approval lifecycle, the
// run-level quality metrics, and policy-based gating. Lifecycle state
// lives on the audit log, never on the recommendation items themselves.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// Store is the persistence slice the audit service needs.
type Store interface {
	InsertAudit(ctx context.Context, a *schema.AuditLog) error
	GetAudit(ctx context.Context, auditID string) (*schema.AuditLog, error)
	UpdateAudit(ctx context.Context, a *schema.AuditLog) error
	AuditsByStatus(ctx context.Context, status schema.ApprovalStatus) ([]*schema.AuditLog, error)
	AuditHistory(ctx context.Context, customerCode string) ([]*schema.AuditLog, error)
	AuditsForRun(ctx context.Context, runID string) ([]*schema.AuditLog, error)
}

// Service implements the audit lifecycle. Decisions on a missing
// audit_id report false without mutating anything; repeating an
// identical decision is a no-op reporting true.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		log:   slog.Default().With("component", "audit"),
		now:   time.Now,
	}
}

// LogRecommendation opens a PENDING audit entry for one item.
func (s *Service) LogRecommendation(ctx context.Context, item schema.RecoItem) (*schema.AuditLog, error) {
	entry := &schema.AuditLog{
		AuditID:        uuid.NewString(),
		RunID:          item.RunID,
		CustomerCode:   item.CustomerCode,
		ProductKey:     item.ProductKey,
		Scenario:       item.Scenario,
		Score:          item.Score.FinalScore,
		ApprovalStatus: schema.ApprovalPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Approve moves PENDING → APPROVED. Reason is optional.
func (s *Service) Approve(ctx context.Context, auditID, actor, reason string) (bool, error) {
	entry, err := s.store.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	switch entry.ApprovalStatus {
	case schema.ApprovalApproved:
		return true, nil // repeated identical request
	case schema.ApprovalPending:
	default:
		return false, nil
	}

	now := s.now().UTC()
	entry.ApprovalStatus = schema.ApprovalApproved
	entry.ApprovedAt = &now
	entry.ApprovedBy = actor
	entry.ApprovalReason = reason
	if err := s.store.UpdateAudit(ctx, entry); err != nil {
		return false, err
	}
	s.log.InfoContext(ctx, "recommendation approved", "audit_id", auditID, "actor", actor)
	return true, nil
}

// Reject moves PENDING → REJECTED. Reason is mandatory.
func (s *Service) Reject(ctx context.Context, auditID, actor, reason string) (bool, error) {
	if reason == "" {
		return false, errors.New("audit: rejection requires a reason")
	}
	entry, err := s.store.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	switch entry.ApprovalStatus {
	case schema.ApprovalRejected:
		return true, nil
	case schema.ApprovalPending:
	default:
		return false, nil
	}

	now := s.now().UTC()
	entry.ApprovalStatus = schema.ApprovalRejected
	entry.ApprovedAt = &now
	entry.ApprovedBy = actor
	entry.ApprovalReason = reason
	if err := s.store.UpdateAudit(ctx, entry); err != nil {
		return false, err
	}
	s.log.InfoContext(ctx, "recommendation rejected", "audit_id", auditID, "actor", actor)
	return true, nil
}

// Flag marks an entry FLAGGED from any state, appending the reason to
// the flag list. Flagging twice with the same reason is a no-op.
func (s *Service) Flag(ctx context.Context, auditID, reason string) (bool, error) {
	entry, err := s.store.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, f := range entry.Flags {
		if f == reason {
			return true, nil
		}
	}
	entry.ApprovalStatus = schema.ApprovalFlagged
	entry.Flags = append(entry.Flags, reason)
	if err := s.store.UpdateAudit(ctx, entry); err != nil {
		return false, err
	}
	s.log.WarnContext(ctx, "recommendation flagged", "audit_id", auditID, "reason", reason)
	return true, nil
}

// Pending lists entries awaiting a decision.
func (s *Service) Pending(ctx context.Context) ([]*schema.AuditLog, error) {
	return s.store.AuditsByStatus(ctx, schema.ApprovalPending)
}

// Flagged lists flagged entries.
func (s *Service) Flagged(ctx context.Context) ([]*schema.AuditLog, error) {
	return s.store.AuditsByStatus(ctx, schema.ApprovalFlagged)
}

// History lists every audit entry for a customer, newest first.
func (s *Service) History(ctx context.Context, customerCode string) ([]*schema.AuditLog, error) {
	return s.store.AuditHistory(ctx, customerCode)
}
