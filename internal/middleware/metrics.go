package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Reg-Kris/pyairtable-automation-service/pkg/metrics"
)

// HTTPMetrics records request counts and latencies. Labels use the route
// template rather than the raw path so cardinality stays bounded.
func HTTPMetrics(registry *metrics.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}

		endpoint := c.Route().Path
		registry.HTTPRequestsTotal.WithLabelValues(c.Method(), endpoint, strconv.Itoa(status)).Inc()
		registry.HTTPRequestDuration.WithLabelValues(c.Method(), endpoint).Observe(time.Since(start).Seconds())

		return err
	}
}
