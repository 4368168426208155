package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Nitirit/GigaChat-App/client"
	"github.com/Nitirit/GigaChat-App/internal/api"
	"github.com/Nitirit/GigaChat-App/internal/auth"
	"github.com/Nitirit/GigaChat-App/internal/config"
	"github.com/Nitirit/GigaChat-App/internal/db"
	"github.com/Nitirit/GigaChat-App/internal/events"
	"github.com/Nitirit/GigaChat-App/internal/transport"
	"github.com/Nitirit/GigaChat-App/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gigachat",
		Short: "Terminal client for GigaChat direct messaging",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on a GigaChat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			return register(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(registerCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(level)

	var out *os.File
	switch cfg.LogFile {
	case "":
		out = os.Stderr
	default:
		out, err = os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.ServerURL == "" {
		return errors.New("no server configured; pass --server or set GIGACHAT_SERVER")
	}

	state, err := db.Open(cfg.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()

	apiClient, err := api.NewClient(cfg.ServerURL)
	if err != nil {
		return err
	}

	self, err := signIn(ctx, cfg, state, apiClient)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", self.String()).Msg("signed in")

	bus := events.NewBus()
	defer bus.Close()

	ctrl := client.NewController(
		apiClient,
		client.NewTransportDialer(transport.NewDialer(apiClient.Jar())),
		bus,
		self,
	)
	defer ctrl.CloseSession()

	if err := ctrl.RefreshFriends(ctx); err != nil {
		log.Warn().Err(err).Msg("friend list unavailable; continuing with an empty directory")
	}

	return tui.Run(ctx, ctrl, bus)
}

// signIn authenticates against the server, replaying a saved session
// cookie when one exists and falling back to an interactive login.
func signIn(ctx context.Context, cfg *config.Config, state *db.StateDB, apiClient *api.Client) (self uuid.UUID, err error) {
	if acct, err := state.Account(cfg.ServerURL); err == nil && acct != nil && acct.SessionCookie != "" {
		apiClient.Jar().SetCookies(apiClient.BaseURL(), []*http.Cookie{{
			Name:  auth.SessionCookie,
			Value: acct.SessionCookie,
			Path:  "/",
		}})
		if id, err := apiClient.Me(ctx); err == nil {
			return id, nil
		}
		log.Debug().Msg("saved session expired; logging in again")
	}

	username := cfg.Username
	if username == "" {
		if username, err = promptLine("Username: "); err != nil {
			return self, err
		}
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return self, err
	}

	if err := apiClient.Login(ctx, username, password); err != nil {
		return self, errors.Wrap(err, "login failed")
	}
	id, err := apiClient.Me(ctx)
	if err != nil {
		return self, err
	}

	if token := sessionToken(apiClient); token != "" {
		if _, err := state.SaveAccount(cfg.ServerURL, username, token); err != nil {
			log.Warn().Err(err).Msg("could not save the session; next start will prompt again")
		}
	}
	return id, nil
}

// sessionToken pulls the session cookie back out of the jar so it can be
// persisted for the next start.
func sessionToken(apiClient *api.Client) string {
	for _, cookie := range apiClient.Jar().Cookies(apiClient.BaseURL()) {
		if cookie.Name == auth.SessionCookie {
			return cookie.Value
		}
	}
	return ""
}

func register(ctx context.Context, cfg *config.Config) error {
	if cfg.ServerURL == "" {
		return errors.New("no server configured; pass --server or set GIGACHAT_SERVER")
	}

	apiClient, err := api.NewClient(cfg.ServerURL)
	if err != nil {
		return err
	}

	username := cfg.Username
	if username == "" {
		if username, err = promptLine("Username: "); err != nil {
			return err
		}
	}
	displayName, err := promptLine("Display name (optional): ")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	if err := apiClient.Register(ctx, username, password, displayName); err != nil {
		return errors.Wrap(err, "registration failed")
	}
	fmt.Printf("Account %q created. Run gigachat to sign in.\n", username)
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "read input")
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(raw), nil
}
