// Command accounts is a small CLI over the session core: sign in and out of
// an accounts host, inspect the current session, and issue authenticated
// requests through the intercepting client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/serandives/accounts-client/events"
	"github.com/serandives/accounts-client/httpclient"
	"github.com/serandives/accounts-client/internal/config"
	"github.com/serandives/accounts-client/oauth"
	"github.com/serandives/accounts-client/session"
	"github.com/serandives/accounts-client/storage"
	"github.com/serandives/accounts-client/tokens"
	"github.com/serandives/accounts-client/users"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %s\n", err)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if c.GetEnv() != "DEV" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	folder := c.GetDataFolder()
	if folder == "" {
		folder = storage.DefaultDir("accounts")
	}
	store := storage.NewFileStore(folder)
	bus := events.NewBus()
	tc := tokens.New(c.GetAccountsURL(), tokens.WithClientID(c.GetClientID()), tokens.WithLogger(logger))
	uc := users.New(c.GetAccountsURL())

	manager, err := session.NewManager(store, bus, tc, session.WithLogger(logger))
	if err != nil {
		return err
	}
	manager.Bind()

	client, err := httpclient.New(manager, httpclient.WithLogger(logger))
	if err != nil {
		return err
	}

	if c.GetAuthURL() != "" {
		flow, err := oauth.NewFlow(oauth.Config{
			ClientID:    c.GetClientID(),
			AuthURL:     c.GetAuthURL(),
			RedirectURI: c.GetRedirectURI(),
		}, store, bus, manager, tc, uc, oauth.WithLogger(logger))
		if err != nil {
			return err
		}
		flow.Bind()
	}

	bus.On(events.ChannelUser, events.EventLoginError, func(payload any) {
		logger.Warn().Any("cause", payload).Msg("sign-in required")
	})

	// Boot announcement: the manager restores and refreshes the persisted
	// session before any command runs.
	bus.Emit(events.ChannelBoot, events.EventReady, nil)

	ctx := context.Background()
	if len(args) == 0 {
		return usage()
	}

	switch args[0] {
	case "login":
		if len(args) != 3 {
			return usage()
		}
		s, err := manager.Login(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (token %s)\n", s.Username, s.TokenID)
		return nil

	case "logout":
		if err := manager.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	case "me":
		s := manager.Current()
		if s == nil {
			fmt.Println("anonymous")
			return nil
		}
		fmt.Printf("user:    %s\ntoken:   %s\nexpires: %s\n", s.Username, s.TokenID, s.Expiry())
		return nil

	case "can":
		if len(args) != 3 {
			return usage()
		}
		fmt.Println(manager.Can(args[1], args[2]))
		return nil

	case "get":
		if len(args) != 2 {
			return usage()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[1], nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		fmt.Println(resp.Status)
		return nil

	default:
		return usage()
	}
}

func usage() error {
	fmt.Fprintln(os.Stderr, "usage: accounts <command>")
	fmt.Fprintln(os.Stderr, "  login <username> <password>")
	fmt.Fprintln(os.Stderr, "  logout")
	fmt.Fprintln(os.Stderr, "  me")
	fmt.Fprintln(os.Stderr, "  can <permission> <action>")
	fmt.Fprintln(os.Stderr, "  get <url>")
	return errors.New("invalid arguments")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
