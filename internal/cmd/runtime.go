package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/brokerdesk/portal/internal/api"
	"github.com/brokerdesk/portal/internal/auth/session"
	"github.com/brokerdesk/portal/internal/auth/token"
	"github.com/brokerdesk/portal/internal/browser"
	"github.com/brokerdesk/portal/internal/config"
	"github.com/brokerdesk/portal/internal/profile"
	"github.com/brokerdesk/portal/internal/store"
	"github.com/brokerdesk/portal/internal/util"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the interactive commands.
type LoginOptions struct {
	// NoBrowser prints and copies URLs instead of opening a browser.
	NoBrowser bool

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)

	// Output receives user-facing messages. Defaults to os.Stdout.
	Output io.Writer

	// Navigator overrides the browser navigator.
	Navigator session.Navigator

	// KV overrides the store selected by the config.
	KV store.KV
}

// Runtime is the wired client: durable store, token store, session
// lifecycle and the authenticated backend client.
type Runtime struct {
	Config  *config.Config
	KV      store.KV
	Tokens  *token.Store
	Session *session.Lifecycle
	Client  *api.Client
	Profile *profile.Service

	identity *api.Client
	flash    *session.Flash
	nav      session.Navigator
	prompt   func(string) (string, error)
	out      io.Writer
}

// NewRuntime opens the configured store, loads persisted tokens and wires the
// clients. The identity client carries no token source or refresher so the
// refresh call never re-enters the 401 retry path.
func NewRuntime(ctx context.Context, cfg *config.Config, options *LoginOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cmd: nil config")
	}
	if options == nil {
		options = &LoginOptions{}
	}
	out := options.Output
	if out == nil {
		out = os.Stdout
	}

	kv := options.KV
	if kv == nil {
		var err error
		if kv, err = store.Open(ctx, cfg.TokenStore, cfg.StateDir); err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
	}

	tokens := token.NewStore(kv)
	if err := tokens.Load(ctx); err != nil {
		log.WithError(err).Warn("failed to load persisted tokens, starting signed out")
	}

	httpClient := util.SetProxy(&cfg.SDKConfig, &http.Client{})
	identity := api.NewClient(cfg.APIBaseURL,
		api.WithHTTPClient(httpClient),
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithRequestLog(cfg.RequestLog),
	)

	nav := options.Navigator
	if nav == nil {
		nav = browser.NewNavigator(browser.WithNoBrowser(options.NoBrowser || cfg.NoBrowser), browser.WithOutput(out))
	}
	flash := session.NewFlash(kv)
	lifecycle := session.New(session.Config{
		ClientID:     cfg.ClientID,
		LoginURL:     cfg.LoginURL,
		LogoutURL:    cfg.LogoutURL,
		RedirectURI:  cfg.RedirectURI,
		RefreshPath:  cfg.RefreshPath,
		ExchangePath: cfg.ExchangePath,
	}, identity, tokens, session.WithNavigator(nav), session.WithFlash(flash))

	client := api.NewClient(cfg.APIBaseURL,
		api.WithHTTPClient(httpClient),
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithRequestLog(cfg.RequestLog),
		api.WithTokens(tokens),
		api.WithRefresher(lifecycle),
	)

	prompt := options.Prompt
	if prompt == nil {
		prompt = stdinPrompt(out)
	}

	return &Runtime{
		Config:   cfg,
		KV:       kv,
		Tokens:   tokens,
		Session:  lifecycle,
		Client:   client,
		Profile:  profile.NewService(client),
		identity: identity,
		flash:    flash,
		nav:      nav,
		prompt:   prompt,
		out:      out,
	}, nil
}

// ApplyConfig applies the hot-reloadable settings of cfg.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	for _, c := range []*api.Client{r.Client, r.identity} {
		c.SetTimeout(cfg.RequestTimeout())
		c.SetRequestLog(cfg.RequestLog)
	}
	util.SetLogLevel(cfg)
}

// Close releases the store.
func (r *Runtime) Close() error {
	if r.KV == nil {
		return nil
	}
	return r.KV.Close()
}

// PrintPendingFlash shows and clears the message recorded when the previous
// session ended.
func (r *Runtime) PrintPendingFlash(ctx context.Context) {
	msg, err := r.flash.Consume(ctx)
	if err != nil {
		log.WithError(err).Debug("failed to read session flash")
		return
	}
	if msg != "" {
		_, _ = fmt.Fprintln(r.out, msg)
	}
}

func (r *Runtime) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func stdinPrompt(out io.Writer) func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(out, prompt)
		value, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || value == "") {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}
