package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/middleware"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/services"
)

type Handlers struct {
	services *services.Services
	validate *validator.Validate
	logger   *zap.Logger
}

func New(services *services.Services, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes mounts the API surface. Everything under /api/v1 is
// org-scoped and requires a verified token; dry-run is registered before the
// :id routes so the literal segment wins.
func (h *Handlers) RegisterRoutes(app *fiber.App, auth *middleware.AuthMiddleware) {
	api := app.Group("/api/v1", auth.RequireAuth)

	api.Get("/triggers", h.GetTriggers)

	api.Post("/rules/dry-run", h.DryRun)
	api.Post("/rules", h.CreateRule)
	api.Get("/rules", h.ListRules)
	api.Get("/rules/:id", h.GetRule)
	api.Put("/rules/:id", h.UpdateRule)
	api.Delete("/rules/:id", h.DeleteRule)
	api.Post("/rules/:id/enable", h.EnableRule)
	api.Post("/rules/:id/disable", h.DisableRule)
	api.Get("/rules/:id/runs", h.ListRuns)
	api.Get("/rules/:id/runs/stats", h.GetRunStats)

	api.Get("/runs/:id", h.GetRun)

	api.Post("/events", h.IngestEvent)
}

// Ping handles health check requests
func (h *Handlers) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"service":   "automation-service",
		"timestamp": time.Now(),
	})
}

// getOrgIDFromContext extracts the authenticated org id
func (h *Handlers) getOrgIDFromContext(c *fiber.Ctx) (uint, error) {
	orgID, ok := middleware.GetOrgID(c)
	if !ok {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "Org not found in token")
	}
	return orgID, nil
}

// getIDParam parses a numeric path parameter
func (h *Handlers) getIDParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return uint(id), nil
}

// getPaginationParams extracts pagination parameters from query
func (h *Handlers) getPaginationParams(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

// validationIssuesResponse returns the collected authoring problems
func validationIssuesResponse(c *fiber.Ctx, issues []services.ValidationIssue) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "Rule validation failed",
		"issues": issues,
	})
}

// respondServiceError maps service errors onto HTTP statuses
func (h *Handlers) respondServiceError(c *fiber.Ctx, err error, message string) error {
	if errors.Is(err, services.ErrRuleNotFound) || errors.Is(err, services.ErrEventNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	var engineErr *services.EngineError
	if errors.As(err, &engineErr) {
		switch engineErr.Code {
		case services.ErrCodeNotFound:
			return fiber.NewError(fiber.StatusNotFound, engineErr.Message)
		case services.ErrCodeValidation:
			return fiber.NewError(fiber.StatusBadRequest, engineErr.Message)
		}
	}

	h.logger.Error(message, zap.Error(err), zap.String("path", c.Path()))
	return fiber.NewError(fiber.StatusInternalServerError, message)
}
