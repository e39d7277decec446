package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleHealth(e echo.Context) error {
	return e.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

// handleBackendHealth probes the upstream API that consumes relayed cookies.
func (s *Server) handleBackendHealth(e echo.Context) error {
	payload, err := s.relay.Health(e.Request().Context())
	if err != nil {
		s.logger.Error("error checking backend health", "error", err)
		return e.JSON(http.StatusBadGateway, map[string]string{
			"status": "unreachable",
		})
	}

	return e.JSON(http.StatusOK, payload)
}

func (s *Server) handleStatus(e echo.Context) error {
	return e.JSON(http.StatusOK, s.manager.Status(e.Request().Context()))
}
