// Command connect runs a one-shot OAuth flow from the terminal: it prints
// the authorize URL, catches the callback on a loopback server, and stores
// the sealed refresh token for the given tenant sheet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-listen-logger/internal/app"
	"github.com/justestif/go-spotify-listen-logger/internal/auth"
	"github.com/justestif/go-spotify-listen-logger/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		sheet    = flag.String("sheet", "", "tenant sheet id to connect")
		timezone = flag.String("timezone", "", "timezone for the tenant (IANA name)")
		timeout  = flag.Duration("timeout", 5*time.Minute, "how long to wait for the callback")
	)
	flag.Parse()
	if *sheet == "" {
		return fmt.Errorf("-sheet is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	connector := auth.NewConnector(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURI, cfg.SealKey)

	code, err := waitForCode(ctx, cfg.SpotifyRedirectURI, connector, *sheet)
	if err != nil {
		return err
	}

	refreshToken, accountID, err := connector.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}

	// Refuse before initializing so a rejected connect changes nothing.
	if err := auth.VerifyAccountFree(ctx, a.Registry, *sheet, accountID); err != nil {
		if errors.Is(err, auth.ErrAccountBound) {
			return fmt.Errorf("spotify account %s is already connected to another sheet", accountID)
		}
		return err
	}

	if err := a.Syncer.InitTenant(ctx, *sheet, *timezone); err != nil {
		return err
	}
	if err := auth.Finalize(ctx, a.Store, a.Registry, cfg.SealKey, *sheet, accountID, refreshToken); err != nil {
		if errors.Is(err, auth.ErrAccountBound) {
			return fmt.Errorf("spotify account %s is already connected to another sheet", accountID)
		}
		return err
	}

	fmt.Printf("Connected %s as %s\n", *sheet, accountID)
	return nil
}

// waitForCode serves the redirect URI on loopback, prints the authorize
// URL for the user to open, and returns the authorization code from the
// callback.
func waitForCode(ctx context.Context, redirectURI string, connector *auth.Connector, tenantID string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URI: %w", err)
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", u.Host, err)
	}

	type result struct {
		code string
		err  error
	}
	ch := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			http.Error(w, "authorization denied", http.StatusBadRequest)
			ch <- result{err: fmt.Errorf("authorization denied: %s", errMsg)}
			return
		}
		if _, err := connector.VerifyState(r.URL.Query().Get("state")); err != nil {
			http.Error(w, "invalid state", http.StatusBadRequest)
			ch <- result{err: err}
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		ch <- result{code: r.URL.Query().Get("code")}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", connector.AuthorizeURL(tenantID))

	select {
	case res := <-ch:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for callback: %w", ctx.Err())
	}
}
