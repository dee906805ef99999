package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
)

// InvoiceResponse is one accepted task with its invoice snapshot.
type InvoiceResponse struct {
	TaskID      string         `json:"task_id"`
	TaskName    string         `json:"task_name"`
	UserEmail   string         `json:"user_email"`
	ExpertEmail string         `json:"expert_email"`
	Status      model.Status   `json:"status"`
	Invoice     *model.Invoice `json:"invoice"`
}

// Invoice serves the invoice listing.
type Invoice struct {
	svc *lifecycle.Service
	log *logrus.Entry
}

// NewInvoiceHandler returns the invoice handler.
func NewInvoiceHandler(svc *lifecycle.Service, log *logrus.Entry) *Invoice {
	return &Invoice{svc: svc, log: log}
}

// EnrichRoutes registers GET /invoices.
func (h *Invoice) EnrichRoutes(router gin.IRouter) {
	router.GET("/invoices", h.listInvoicesAction)
}

func (h *Invoice) listInvoicesAction(c *gin.Context) {
	tasks, err := h.svc.Invoices(c.Request.Context(), principal(c))
	if err != nil {
		HandleError(err, c)
		return
	}

	out := make([]InvoiceResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, InvoiceResponse{
			TaskID:      t.ID,
			TaskName:    t.TaskName,
			UserEmail:   t.UserEmail,
			ExpertEmail: t.ExpertEmail,
			Status:      t.Status,
			Invoice:     t.Invoice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out})
}
