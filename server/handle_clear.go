package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/thealgorithm/companiond/internal/helpers"
)

func (s *Server) handleClear(e echo.Context) error {
	if err := s.manager.ClearAll(e.Request().Context()); err != nil {
		s.logger.Error("error clearing authentication data", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"status": "cleared",
	})
}

// handleLogout clears everything; the caller is expected to start the OAuth
// step again from scratch.
func (s *Server) handleLogout(e echo.Context) error {
	if err := s.manager.LogoutAndReauthenticate(e.Request().Context()); err != nil {
		s.logger.Error("error logging out", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}
