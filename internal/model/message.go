package model

import (
	"fmt"
	"strings"
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderExpert   Sender = "expert"
	SenderSystem   Sender = "system"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderCustomer || s == SenderExpert || s == SenderSystem
}

// MessageType distinguishes plain chat from structured lifecycle messages.
type MessageType string

const (
	MessageTypePlain        MessageType = "plain"
	MessageTypePriceOffer   MessageType = "price_offer"
	MessageTypeStatusUpdate MessageType = "status_update"
)

// Message is a single entry in a task's chat thread.
type Message struct {
	ID string `json:"id" bson:"_id"`

	// TaskID is set on stored message rows. It is not part of the wire format.
	TaskID string `json:"-" bson:"taskId"`

	// ClientID is an optional caller-chosen correlation id. A repeated
	// ClientID on the same task resolves to the already stored message.
	ClientID string `json:"client_id,omitempty" bson:"clientId,omitempty"`

	// Seq is the append position assigned by the store, starting at 1.
	Seq int64 `json:"seq" bson:"seq"`

	Sender      Sender      `json:"sender" bson:"sender"`
	Type        MessageType `json:"type" bson:"type"`
	Content     string      `json:"content" bson:"content"`
	Read        bool        `json:"read" bson:"read"`
	SenderName  string      `json:"sender_name" bson:"senderName"`
	SenderEmail string      `json:"sender_email" bson:"senderEmail"`
	CreatedAt   time.Time   `json:"created_at" bson:"createdAt"`
}

// RenderPriceOffer formats the price offer text for est.
func RenderPriceOffer(est Estimate) string {
	var b strings.Builder
	b.WriteString("Price offer\n")
	fmt.Fprintf(&b, "Hours: %s\n", formatNumber(est.Hours))
	fmt.Fprintf(&b, "Price: $%s\n", formatNumber(est.Price))
	fmt.Fprintf(&b, "Rate: $%s/h", formatNumber(est.Rate))
	if est.Deadline != "" {
		fmt.Fprintf(&b, "\nDeadline: %s", est.Deadline)
	}
	return b.String()
}

// RenderMessage returns the display text for m within task. Price offers are
// always rendered from the task's current estimate.
func RenderMessage(task *TaskRequest, m Message) string {
	if m.Type == MessageTypePriceOffer && task != nil && task.Estimate != nil {
		return RenderPriceOffer(*task.Estimate)
	}
	return m.Content
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
