package server

import (
	"errors"
	"net/http"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"
	"github.com/thealgorithm/companiond/auth"
	"github.com/thealgorithm/companiond/cookies"
	"github.com/thealgorithm/companiond/internal/helpers"
)

func (s *Server) handleSessionStart(e echo.Context) error {
	res, err := s.manager.BeginSession(e.Request().Context())
	if err != nil {
		if errors.Is(err, auth.ErrOAuthRequired) {
			return helpers.InputError(e, to.StringPtr("OAuthRequired"))
		}
		s.logger.Error("error starting session browser", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, res)
}

type SessionNavigateRequest struct {
	URL string `json:"url" validate:"required,nav-url"`
}

func (s *Server) handleSessionNavigate(e echo.Context) error {
	var req SessionNavigateRequest
	if err := e.Bind(&req); err != nil {
		s.logger.Error("error binding session navigate request", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		return helpers.InputError(e, nil)
	}

	res, err := s.manager.NavigateSession(e.Request().Context(), req.URL)
	if err != nil {
		s.logger.Error("error navigating session browser", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, res)
}

func (s *Server) handleSessionComplete(e echo.Context) error {
	report, err := s.manager.CompleteSession(e.Request().Context())
	if err != nil {
		if errors.Is(err, cookies.ErrNoCookiesFound) {
			return helpers.InputError(e, to.StringPtr("NoCookiesFound"))
		}
		s.logger.Error("error completing session", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, report)
}

func (s *Server) handleSessionCancel(e echo.Context) error {
	s.manager.CancelSession()
	return e.JSON(http.StatusOK, map[string]string{
		"status": "cancelled",
	})
}

// handleSessionCookies reports on the stored cookie set without exposing
// cookie values.
func (s *Server) handleSessionCookies(e echo.Context) error {
	report, err := s.manager.SessionCookieReport(e.Request().Context())
	if err != nil {
		if errors.Is(err, cookies.ErrNoCookiesFound) {
			return helpers.InputError(e, to.StringPtr("NoCookiesFound"))
		}
		s.logger.Error("error reporting session cookies", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, report)
}
