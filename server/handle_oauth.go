package server

import (
	"errors"
	"net/http"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"
	"github.com/thealgorithm/companiond/internal/helpers"
	"github.com/thealgorithm/companiond/oauth"
)

func (s *Server) handleOAuthStart(e echo.Context) error {
	authURL, err := s.manager.BeginOAuth(e.Request().Context())
	if err != nil {
		s.logger.Error("error starting oauth attempt", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"authorization_url": authURL,
	})
}

type OAuthCallbackRequest struct {
	URL string `json:"url" validate:"required,nav-url"`
}

// handleOAuthCallback accepts a callback URL forwarded by the UI layer, the
// way the OS hands an opened app link to the process.
func (s *Server) handleOAuthCallback(e echo.Context) error {
	var req OAuthCallbackRequest
	if err := e.Bind(&req); err != nil {
		s.logger.Error("error binding oauth callback request", "error", err)
		return helpers.InputError(e, nil)
	}

	if err := e.Validate(req); err != nil {
		return helpers.InputError(e, nil)
	}

	if err := s.manager.HandleOAuthCallback(e.Request().Context(), req.URL); err != nil {
		return s.callbackError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleOAuthCallbackRedirect serves providers configured with an http
// redirect URI instead of the app scheme. The query is handed to the flow
// unchanged.
func (s *Server) handleOAuthCallbackRedirect(e echo.Context) error {
	raw := s.config.RedirectURI
	if q := e.Request().URL.RawQuery; q != "" {
		raw += "?" + q
	}

	if err := s.manager.HandleOAuthCallback(e.Request().Context(), raw); err != nil {
		return s.callbackError(e, err)
	}

	return e.HTML(http.StatusOK, "<html><body><p>Sign in complete. You can close this window.</p></body></html>")
}

func (s *Server) handleOAuthCancel(e echo.Context) error {
	s.manager.CancelOAuth()
	return e.JSON(http.StatusOK, map[string]string{
		"status": "cancelled",
	})
}

func (s *Server) callbackError(e echo.Context, err error) error {
	s.logger.Error("error handling oauth callback", "error", err)

	var perr *oauth.ProviderError
	if errors.As(err, &perr) {
		return helpers.InputError(e, to.StringPtr(perr.Code))
	}

	switch {
	case errors.Is(err, oauth.ErrNoAuthorizationCode),
		errors.Is(err, oauth.ErrStateMismatch),
		errors.Is(err, oauth.ErrMissingVerifier):
		return helpers.InputError(e, nil)
	default:
		return helpers.ServerError(e, nil)
	}
}
