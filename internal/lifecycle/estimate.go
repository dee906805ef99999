package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/notify"
)

// EstimateInput is the expert's offer.
type EstimateInput struct {
	Hours    float64
	Price    float64
	Deadline string
}

func (in EstimateInput) validate() error {
	if in.Hours <= 0 {
		return invalid("hours", "must be greater than zero")
	}
	if in.Price <= 0 {
		return invalid("price", "must be greater than zero")
	}
	return nil
}

// SendEstimate records the expert's first estimate for a pending task and
// appends the price offer message in the same write.
func (s *Service) SendEstimate(ctx context.Context, p model.Principal, taskID string, in EstimateInput) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.SendEstimate"

	if !p.IsStaff() {
		return nil, forbidden(p, "send estimates")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		if err := authorize(p, t); err != nil {
			return change{}, err
		}
		if t.Status != model.StatusPending {
			return change{}, &TransitionError{From: t.Status, To: model.StatusEstimateProvided}
		}

		now := s.now()
		est := model.Estimate{
			Hours:      in.Hours,
			Price:      in.Price,
			Rate:       model.HourlyRate(in.Price, in.Hours),
			Deadline:   strings.TrimSpace(in.Deadline),
			ProvidedAt: now,
			UpdatedAt:  now,
			ProvidedBy: p.Email,
		}
		t.Estimate = &est
		t.Status = model.StatusEstimateProvided

		offer := model.Message{
			ID:          uuid.NewString(),
			Sender:      model.SenderExpert,
			Type:        model.MessageTypePriceOffer,
			Content:     model.RenderPriceOffer(est),
			SenderName:  p.Name,
			SenderEmail: p.Email,
			CreatedAt:   now,
		}
		return change{append: []model.Message{offer}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   taskID,
		"price":     in.Price,
		"hours":     in.Hours,
	}).Info("estimate sent")
	s.emit(notify.EstimateSent, task, p)
	return task, nil
}

// EditEstimate changes an estimate the customer has not answered yet. The
// stored price offer message is rewritten in the same write so every reader
// sees the new numbers.
func (s *Service) EditEstimate(ctx context.Context, p model.Principal, taskID string, in EstimateInput) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.EditEstimate"

	if !p.IsStaff() {
		return nil, forbidden(p, "edit estimates")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		if err := authorize(p, t); err != nil {
			return change{}, err
		}
		if t.Status != model.StatusEstimateProvided || !model.CanTransition(t.Status, model.StatusEstimateProvided) {
			return change{}, &TransitionError{From: t.Status, To: model.StatusEstimateProvided}
		}

		now := s.now()
		est := model.Estimate{ProvidedAt: now, ProvidedBy: p.Email}
		if t.Estimate != nil {
			est = *t.Estimate
		}
		est.Hours = in.Hours
		est.Price = in.Price
		est.Rate = model.HourlyRate(in.Price, in.Hours)
		est.Deadline = strings.TrimSpace(in.Deadline)
		est.UpdatedAt = now
		t.Estimate = &est

		content := model.RenderPriceOffer(est)
		if offer, ok := t.PriceOffer(); ok {
			offer.Content = content
			return change{rewrite: []model.Message{offer}}, nil
		}
		return change{append: []model.Message{{
			ID:          uuid.NewString(),
			Sender:      model.SenderExpert,
			Type:        model.MessageTypePriceOffer,
			Content:     content,
			SenderName:  p.Name,
			SenderEmail: p.Email,
			CreatedAt:   now,
		}}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   taskID,
		"price":     in.Price,
		"hours":     in.Hours,
	}).Info("estimate edited")
	s.emit(notify.EstimateSent, task, p)
	return task, nil
}

// AcceptEstimate accepts the current estimate, snapshots it as an invoice
// awaiting work and announces the acceptance with one system message.
func (s *Service) AcceptEstimate(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.AcceptEstimate"

	if !mayMoveTo(p.Role, model.StatusAccepted) {
		return nil, forbidden(p, "accept estimates")
	}

	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		if err := authorize(p, t); err != nil {
			return change{}, err
		}
		if !model.CanTransition(t.Status, model.StatusAccepted) {
			return change{}, &TransitionError{From: t.Status, To: model.StatusAccepted}
		}
		if t.Estimate == nil {
			return change{}, invalid("estimate", "task has no estimate")
		}

		now := s.now()
		t.Invoice = model.NewInvoice(*t.Estimate, p.Email, t.ExpertName, now)
		t.Status = model.StatusAccepted

		note := fmt.Sprintf("%s accepted the estimate of $%s for %s hours.",
			p.Name, trimFloat(t.Estimate.Price), trimFloat(t.Estimate.Hours))
		return change{append: []model.Message{s.systemMessage(note)}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   taskID,
		"price":     task.Invoice.Price,
	}).Info("estimate accepted")
	s.emit(notify.EstimateAccepted, task, p)
	return task, nil
}

// DeclineEstimate declines the current estimate with optional feedback.
func (s *Service) DeclineEstimate(ctx context.Context, p model.Principal, taskID, feedback string) (*model.TaskRequest, error) {
	const op = "lifecycle.Service.DeclineEstimate"

	if !mayMoveTo(p.Role, model.StatusDeclined) {
		return nil, forbidden(p, "decline estimates")
	}
	feedback = strings.TrimSpace(feedback)

	task, err := s.mutate(ctx, taskID, func(t *model.TaskRequest) (change, error) {
		if err := authorize(p, t); err != nil {
			return change{}, err
		}
		if !model.CanTransition(t.Status, model.StatusDeclined) {
			return change{}, &TransitionError{From: t.Status, To: model.StatusDeclined}
		}

		t.Status = model.StatusDeclined
		t.DeclineFeedback = feedback

		note := fmt.Sprintf("%s declined the estimate.", p.Name)
		if feedback != "" {
			note = fmt.Sprintf("%s declined the estimate: %s", p.Name, feedback)
		}
		return change{append: []model.Message{s.systemMessage(note)}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"operation":    op,
		"task_id":      taskID,
		"has_feedback": feedback != "",
	}).Info("estimate declined")
	s.emit(notify.EstimateDeclined, task, p)
	return task, nil
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
