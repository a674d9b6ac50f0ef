package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// defaultApprovalDeadline is how long a manual decision may stay open.
const defaultApprovalDeadline = 72 * time.Hour

// WorkflowStore persists approval workflows.
type WorkflowStore interface {
	InsertWorkflow(ctx context.Context, w *schema.ApprovalWorkflow) error
	CompleteWorkflow(ctx context.Context, w *schema.ApprovalWorkflow) error
	PendingWorkflows(ctx context.Context) ([]*schema.ApprovalWorkflow, error)
}

// Workflows opens and closes manual approval workflows for audit
// entries that a require-approval policy stopped.
type Workflows struct {
	store   WorkflowStore
	service *Service
	log     *slog.Logger
	now     func() time.Time
}

func NewWorkflows(store WorkflowStore, service *Service) *Workflows {
	return &Workflows{
		store:   store,
		service: service,
		log:     slog.Default().With("component", "audit.workflows"),
		now:     time.Now,
	}
}

// Open creates a pending workflow for one audit entry.
func (w *Workflows) Open(ctx context.Context, runID, auditID, requestedBy string, priority schema.WorkflowPriority) (*schema.ApprovalWorkflow, error) {
	now := w.now().UTC()
	deadline := now.Add(defaultApprovalDeadline)
	wf := &schema.ApprovalWorkflow{
		WorkflowID:       uuid.NewString(),
		RunID:            runID,
		AuditID:          auditID,
		Status:           schema.ApprovalPending,
		RequestedBy:      requestedBy,
		CreatedAt:        now,
		ApprovalDeadline: &deadline,
		Priority:         priority,
	}
	if err := w.store.InsertWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Approve closes a workflow and approves the underlying audit entry.
func (w *Workflows) Approve(ctx context.Context, wf *schema.ApprovalWorkflow, actor, notes string) (bool, error) {
	ok, err := w.service.Approve(ctx, wf.AuditID, actor, notes)
	if err != nil || !ok {
		return ok, err
	}
	now := w.now().UTC()
	wf.Status = schema.ApprovalApproved
	wf.ApprovedBy = actor
	wf.CompletedAt = &now
	wf.Notes = notes
	if err := w.store.CompleteWorkflow(ctx, wf); err != nil {
		return false, err
	}
	return true, nil
}

// Reject closes a workflow and rejects the underlying audit entry.
func (w *Workflows) Reject(ctx context.Context, wf *schema.ApprovalWorkflow, actor, reason string) (bool, error) {
	ok, err := w.service.Reject(ctx, wf.AuditID, actor, reason)
	if err != nil || !ok {
		return ok, err
	}
	now := w.now().UTC()
	wf.Status = schema.ApprovalRejected
	wf.ApprovedBy = actor
	wf.RejectionReason = reason
	wf.CompletedAt = &now
	if err := w.store.CompleteWorkflow(ctx, wf); err != nil {
		return false, err
	}
	return true, nil
}

// Pending lists open workflows, highest priority first.
func (w *Workflows) Pending(ctx context.Context) ([]*schema.ApprovalWorkflow, error) {
	return w.store.PendingWorkflows(ctx)
}
