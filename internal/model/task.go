package model

import (
	"math"
	"time"
)

// Status is the lifecycle state of a task request.
type Status string

const (
	StatusPending          Status = "pending"
	StatusEstimateProvided Status = "estimate_provided"
	StatusAccepted         Status = "accepted"
	StatusDeclined         Status = "declined"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
)

// InvoiceStatusPendingWork is the invoice status recorded when a customer
// accepts an estimate.
const InvoiceStatusPendingWork = "pending_work"

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusEstimateProvided,
	StatusAccepted,
	StatusDeclined,
	StatusInProgress,
	StatusCompleted,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDeclined || s == StatusCompleted
}

// Label returns a human-readable status name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusEstimateProvided:
		return "Estimate provided"
	case StatusAccepted:
		return "Accepted"
	case StatusDeclined:
		return "Declined"
	case StatusInProgress:
		return "In progress"
	case StatusCompleted:
		return "Completed"
	default:
		return string(s)
	}
}

// FileRef points at an attachment held in external object storage.
type FileRef struct {
	Name string `json:"name" bson:"name"`
	URL  string `json:"url" bson:"url"`
	Size int64  `json:"size" bson:"size"`
	Type string `json:"type" bson:"type"`
}

// Estimate is the expert's price offer for a task.
type Estimate struct {
	Hours      float64   `json:"hours" bson:"hours"`
	Price      float64   `json:"price" bson:"price"`
	Rate       float64   `json:"rate" bson:"rate"`
	Deadline   string    `json:"deadline,omitempty" bson:"deadline,omitempty"`
	ProvidedAt time.Time `json:"provided_at" bson:"providedAt"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updatedAt"`
	ProvidedBy string    `json:"provided_by" bson:"providedBy"`
}

// HourlyRate derives the rate from price and hours, rounded to cents.
// A zero or negative hour count yields zero.
func HourlyRate(price, hours float64) float64 {
	if hours <= 0 {
		return 0
	}
	return math.Round(price/hours*100) / 100
}

// Invoice is the snapshot of an estimate taken when the customer accepts it.
type Invoice struct {
	Hours      float64   `json:"hours" bson:"hours"`
	Price      float64   `json:"price" bson:"price"`
	Rate       float64   `json:"rate" bson:"rate"`
	Deadline   string    `json:"deadline,omitempty" bson:"deadline,omitempty"`
	OrderedAt  time.Time `json:"ordered_at" bson:"orderedAt"`
	OrderedBy  string    `json:"ordered_by" bson:"orderedBy"`
	Status     string    `json:"status" bson:"status"`
	ExpertName string    `json:"expert_name" bson:"expertName"`
}

// NewInvoice snapshots est as a freshly ordered invoice.
func NewInvoice(est Estimate, orderedBy, expertName string, at time.Time) *Invoice {
	return &Invoice{
		Hours:      est.Hours,
		Price:      est.Price,
		Rate:       est.Rate,
		Deadline:   est.Deadline,
		OrderedAt:  at,
		OrderedBy:  orderedBy,
		Status:     InvoiceStatusPendingWork,
		ExpertName: expertName,
	}
}

// TaskRequest is a customer's request for a fixed-price piece of expert work,
// together with its chat thread and estimate/invoice state.
type TaskRequest struct {
	ID     string `json:"id" bson:"_id"`
	Status Status `json:"status" bson:"status"`

	// Requester identity. Immutable after creation.
	UserID    string `json:"user_id" bson:"userId"`
	UserEmail string `json:"user_email" bson:"userEmail"`
	UserName  string `json:"user_name" bson:"userName"`

	// Assigned expert. Fixed at creation.
	ExpertEmail string `json:"expert_email" bson:"expertEmail"`
	ExpertName  string `json:"expert_name" bson:"expertName"`
	ExpertType  string `json:"expert_type" bson:"expertType"`

	TaskName        string     `json:"task_name" bson:"taskName"`
	TaskDescription string     `json:"task_description" bson:"taskDescription"`
	DueDate         *time.Time `json:"due_date,omitempty" bson:"dueDate,omitempty"`
	Files           []FileRef  `json:"files" bson:"files"`

	// Messages are kept in append order (ascending Seq).
	Messages []Message `json:"messages" bson:"-"`

	Estimate        *Estimate `json:"estimate,omitempty" bson:"estimate,omitempty"`
	Invoice         *Invoice  `json:"invoice,omitempty" bson:"invoice,omitempty"`
	DeclineFeedback string    `json:"decline_feedback,omitempty" bson:"declineFeedback,omitempty"`

	CreatedAt   time.Time  `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updatedAt"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completedAt,omitempty"`

	// Revision increases on every committed write.
	Revision int64 `json:"revision" bson:"revision"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *TaskRequest) Clone() *TaskRequest {
	if t == nil {
		return nil
	}
	c := *t
	c.Files = append([]FileRef(nil), t.Files...)
	c.Messages = append([]Message(nil), t.Messages...)
	if t.Estimate != nil {
		est := *t.Estimate
		c.Estimate = &est
	}
	if t.Invoice != nil {
		inv := *t.Invoice
		c.Invoice = &inv
	}
	return &c
}

// PriceOffer returns the current price_offer message, if any.
func (t *TaskRequest) PriceOffer() (Message, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Type == MessageTypePriceOffer {
			return t.Messages[i], true
		}
	}
	return Message{}, false
}

// HasMessage reports whether a message with the given client id is present.
func (t *TaskRequest) HasMessage(clientID string) bool {
	if clientID == "" {
		return false
	}
	for _, m := range t.Messages {
		if m.ClientID == clientID {
			return true
		}
	}
	return false
}
