// Package api exposes the task lifecycle over HTTP/JSON and WebSocket for
// browser clients.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
)

// ExpertLookup resolves a configured expert by email.
type ExpertLookup func(email string) (model.ExpertConfig, bool)

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc *lifecycle.Service, tokens TokenValidator, experts ExpertLookup, log *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log.WithField("component", "http")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	secured := router.Group("/")
	secured.Use(RequireAuth(tokens))

	NewTaskHandler(svc, experts, log).EnrichRoutes(secured)
	NewSubscribeHandler(svc, log).EnrichRoutes(secured)
	NewInvoiceHandler(svc, log).EnrichRoutes(secured)

	return router
}
