package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"github.com/thealgorithm/companiond/auth"
	"github.com/thealgorithm/companiond/browser"
	"github.com/thealgorithm/companiond/internal/credstore"
	"github.com/thealgorithm/companiond/internal/db"
	"github.com/thealgorithm/companiond/models"
	"github.com/thealgorithm/companiond/oauth"
	"github.com/thealgorithm/companiond/oauth/constants"
	"github.com/thealgorithm/companiond/relay"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Server struct {
	httpd   *http.Server
	echo    *echo.Echo
	db      *db.DB
	logger  *slog.Logger
	config  *config
	manager *auth.Manager
	relay   *relay.Client
}

type Args struct {
	Addr      string
	DbName    string
	Logger    *slog.Logger
	Version   string
	SecretKey string

	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scope        string

	LoginURL   string
	APIBaseURL string
}

type config struct {
	Version     string
	RedirectURI string
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func New(args *Args) (*Server, error) {
	if args.Addr == "" {
		return nil, fmt.Errorf("addr must be set")
	}

	if args.DbName == "" {
		return nil, fmt.Errorf("db name must be set")
	}

	if args.SecretKey == "" {
		return nil, fmt.Errorf("secret key must be set")
	}

	if args.ClientID == "" {
		return nil, fmt.Errorf("oauth client id must be set")
	}

	key, err := hex.DecodeString(args.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded: %w", err)
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	redirectURI := args.RedirectURI
	if redirectURI == "" {
		redirectURI = constants.DefaultRedirectURI
	}

	ru, err := neturl.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("error parsing redirect uri: %w", err)
	}

	e := echo.New()
	e.HideBanner = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"*"},
		AllowMethods:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           100_000_000,
	}))

	vdtor := validator.New()
	vdtor.RegisterValidation("nav-url", func(fl validator.FieldLevel) bool {
		u, err := neturl.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return u.Scheme != ""
	})

	e.Validator = &CustomValidator{validator: vdtor}

	httpd := &http.Server{
		Addr:         args.Addr,
		Handler:      e,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		IdleTimeout:  time.Minute,
	}

	gdb, err := gorm.Open(sqlite.Open(args.DbName), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	dbw := db.NewDB(gdb)

	store, err := credstore.New(dbw, key)
	if err != nil {
		return nil, fmt.Errorf("error creating credential store: %w", err)
	}

	flow, err := oauth.New(&oauth.Args{
		Store:  store,
		Logger: args.Logger,
		Config: oauth.Config{
			ClientID:     args.ClientID,
			AuthorizeURL: args.AuthorizeURL,
			TokenURL:     args.TokenURL,
			RedirectURI:  redirectURI,
			Scope:        args.Scope,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating oauth flow: %w", err)
	}

	b, err := browser.New(&browser.Args{
		Logger:         args.Logger,
		LoginURL:       args.LoginURL,
		CallbackScheme: ru.Scheme,
		OnCallback: func(u *neturl.URL) {
			// callbacks intercepted inside the session browser feed the
			// same path as ones arriving over the HTTP surface
			go func() {
				if err := flow.HandleCallback(context.Background(), u.String()); err != nil {
					args.Logger.Error("error handling intercepted callback", "error", err)
				}
			}()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating session browser: %w", err)
	}

	relayClient := relay.New(&relay.Args{
		Logger:  args.Logger,
		BaseURL: args.APIBaseURL,
	})

	manager, err := auth.New(&auth.Args{
		Store:   store,
		Flow:    flow,
		Browser: b,
		Relay:   relayClient,
		Logger:  args.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating auth manager: %w", err)
	}

	s := &Server{
		httpd:  httpd,
		echo:   e,
		logger: args.Logger,
		db:     dbw,
		config: &config{
			Version:     args.Version,
			RedirectURI: redirectURI,
		},
		manager: manager,
		relay:   relayClient,
	}

	return s, nil
}

func (s *Server) addRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/backend/health", s.handleBackendHealth)
	s.echo.GET("/status", s.handleStatus)

	s.echo.POST("/auth/oauth/start", s.handleOAuthStart)
	s.echo.POST("/auth/oauth/callback", s.handleOAuthCallback)
	s.echo.POST("/auth/oauth/cancel", s.handleOAuthCancel)
	s.echo.GET("/oauth/callback", s.handleOAuthCallbackRedirect)

	s.echo.POST("/auth/session/start", s.handleSessionStart)
	s.echo.POST("/auth/session/navigate", s.handleSessionNavigate)
	s.echo.POST("/auth/session/complete", s.handleSessionComplete)
	s.echo.POST("/auth/session/cancel", s.handleSessionCancel)
	s.echo.GET("/auth/session/cookies", s.handleSessionCookies)

	s.echo.POST("/auth/clear", s.handleClear)
	s.echo.POST("/auth/logout", s.handleLogout)
}

func (s *Server) Serve(ctx context.Context) error {
	s.addRoutes()

	s.logger.Info("migrating...")

	if err := s.db.AutoMigrate(&models.Credential{}); err != nil {
		return fmt.Errorf("error migrating: %w", err)
	}

	s.logger.Info("starting server", "addr", s.httpd.Addr)

	go func() {
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("error serving", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpd.Shutdown(shutdownCtx)
}
