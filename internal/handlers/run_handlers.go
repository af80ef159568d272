package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// ListRuns handles GET /api/v1/rules/:id/runs
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	limit, offset := h.getPaginationParams(c)

	runs, err := h.services.Rules.ListRuns(c.Context(), orgID, ruleID, limit, offset)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to list runs")
	}

	return c.JSON(fiber.Map{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRunStats handles GET /api/v1/rules/:id/runs/stats
func (h *Handlers) GetRunStats(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	ruleID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	stats, err := h.services.Rules.GetRunStats(c.Context(), orgID, ruleID)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to get run stats")
	}

	return c.JSON(stats)
}

// GetRun handles GET /api/v1/runs/:id, returning the run with its ordered
// step records.
func (h *Handlers) GetRun(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	runID, err := h.getIDParam(c, "id")
	if err != nil {
		return err
	}

	run, steps, err := h.services.Rules.GetRun(c.Context(), orgID, runID)
	if err != nil {
		return h.respondServiceError(c, err, "Failed to get run")
	}

	return c.JSON(fiber.Map{
		"run":   run,
		"steps": steps,
	})
}
