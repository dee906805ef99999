package lifecycle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/notify"
)

// StatusPatch carries fields merged into the task together with a status
// change. Nil fields are left untouched.
type StatusPatch struct {
	Estimate        *model.Estimate
	Invoice         *model.Invoice
	DeclineFeedback *string
}

func (p StatusPatch) apply(t *model.TaskRequest) {
	if p.Estimate != nil {
		est := *p.Estimate
		t.Estimate = &est
	}
	if p.Invoice != nil {
		inv := *p.Invoice
		t.Invoice = &inv
	}
	if p.DeclineFeedback != nil {
		t.DeclineFeedback = *p.DeclineFeedback
	}
}

// mayMoveTo reports whether a role is the party that drives a task into to.
func mayMoveTo(role model.Role, to model.Status) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleExpert:
		return to == model.StatusEstimateProvided || to == model.StatusInProgress || to == model.StatusCompleted
	case model.RoleCustomer:
		return to == model.StatusAccepted || to == model.StatusDeclined
	default:
		return false
	}
}

// UpdateStatus moves a task to a new status if the transition table allows
// it, merging patch in the same write. Completing stamps CompletedAt.
func (s *Service) UpdateStatus(
	ctx context.Context,
	p model.Principal,
	taskID string,
	to model.Status,
	patch StatusPatch,
) (*model.TaskRequest, error) {
	return s.transition(ctx, p, taskID, to, patch, "")
}

// StartWork moves an accepted task to in_progress.
func (s *Service) StartWork(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error) {
	return s.transition(ctx, p, taskID, model.StatusInProgress, StatusPatch{},
		fmt.Sprintf("%s started working on this task.", p.Name))
}

// Complete moves an in-progress task to completed.
func (s *Service) Complete(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error) {
	task, err := s.transition(ctx, p, taskID, model.StatusCompleted, StatusPatch{},
		fmt.Sprintf("%s marked this task as completed.", p.Name))
	if err != nil {
		return nil, err
	}
	s.emit(notify.TaskCompleted, task, p)
	return task, nil
}

func (s *Service) transition(
	ctx context.Context,
	p model.Principal,
	taskID string,
	to model.Status,
	patch StatusPatch,
	note string,
) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.UpdateStatus"

	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if !mayMoveTo(p.Role, to) {
		return nil, forbidden(p, "move tasks to "+string(to))
	}

	var from model.Status
	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		if err := authorize(p, t); err != nil {
			return change{}, err
		}
		if !model.CanTransition(t.Status, to) {
			return change{}, &TransitionError{From: t.Status, To: to}
		}
		from = t.Status
		s.applyStatus(t, to, patch)

		var c change
		if note != "" {
			c.append = append(c.append, s.systemMessage(note))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   taskID,
		"from":      from,
		"to":        to,
	}).Info("status changed")
	return task, nil
}

// ForceStatus sets any known status regardless of the transition table.
// Admin only; the override is logged and announced in the thread.
func (s *Service) ForceStatus(
	ctx context.Context,
	admin model.Principal,
	taskID string,
	to model.Status,
	patch StatusPatch,
) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.ForceStatus"

	if admin.Role != model.RoleAdmin {
		return nil, forbidden(admin, "override task status")
	}
	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}

	var from model.Status
	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		from = t.Status
		s.applyStatus(t, to, patch)
		note := fmt.Sprintf("Status changed from %s to %s by %s.", from.Label(), to.Label(), admin.Name)
		return change{append: []model.Message{s.systemMessage(note)}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   taskID,
		"from":      from,
		"to":        to,
		"admin":     admin.Email,
	}).Warn("status overridden")
	return task, nil
}

func (s *Service) applyStatus(t *model.TaskRequest, to model.Status, patch StatusPatch) {
	patch.apply(t)
	t.Status = to
	if to == model.StatusCompleted {
		now := s.now()
		t.CompletedAt = &now
	}
}
