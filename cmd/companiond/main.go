package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/thealgorithm/companiond/browser"
	"github.com/thealgorithm/companiond/oauth/constants"
	"github.com/thealgorithm/companiond/server"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "companiond",
		Usage: "Local authentication agent for The Algorithm",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "127.0.0.1:8923",
				EnvVars: []string{"COMPANION_ADDR"},
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "companion.db",
				EnvVars: []string{"COMPANION_DB_NAME"},
			},
			&cli.StringFlag{
				Name:     "secret-key",
				Required: true,
				Usage:    "hex-encoded 32-byte key sealing stored credentials",
				EnvVars:  []string{"COMPANION_SECRET_KEY"},
			},
			&cli.StringFlag{
				Name:     "client-id",
				Required: true,
				EnvVars:  []string{"COMPANION_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "authorize-url",
				Value:   constants.DefaultAuthorizeURL,
				EnvVars: []string{"COMPANION_AUTHORIZE_URL"},
			},
			&cli.StringFlag{
				Name:    "token-url",
				Value:   constants.DefaultTokenURL,
				EnvVars: []string{"COMPANION_TOKEN_URL"},
			},
			&cli.StringFlag{
				Name:    "redirect-uri",
				Value:   constants.DefaultRedirectURI,
				EnvVars: []string{"COMPANION_REDIRECT_URI"},
			},
			&cli.StringFlag{
				Name:    "scope",
				Value:   constants.DefaultScope,
				EnvVars: []string{"COMPANION_SCOPE"},
			},
			&cli.StringFlag{
				Name:    "login-url",
				Value:   browser.DefaultLoginURL,
				EnvVars: []string{"COMPANION_LOGIN_URL"},
			},
			&cli.StringFlag{
				Name:    "api-base",
				EnvVars: []string{"COMPANION_API_BASE"},
			},
		},
		Commands: []*cli.Command{
			run,
		},
		ErrWriter: os.Stdout,
		Version:   Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

var run = &cli.Command{
	Name:  "run",
	Usage: "Start the companion agent",
	Flags: []cli.Flag{},
	Action: func(cmd *cli.Context) error {
		s, err := server.New(&server.Args{
			Addr:         cmd.String("addr"),
			DbName:       cmd.String("db-name"),
			Version:      Version,
			SecretKey:    cmd.String("secret-key"),
			ClientID:     cmd.String("client-id"),
			AuthorizeURL: cmd.String("authorize-url"),
			TokenURL:     cmd.String("token-url"),
			RedirectURI:  cmd.String("redirect-uri"),
			Scope:        cmd.String("scope"),
			LoginURL:     cmd.String("login-url"),
			APIBaseURL:   cmd.String("api-base"),
		})
		if err != nil {
			fmt.Printf("error creating companiond: %v", err)
			return err
		}

		if err := s.Serve(cmd.Context); err != nil {
			fmt.Printf("error starting companiond: %v", err)
			return err
		}

		return nil
	},
}
