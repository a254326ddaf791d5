// Package main provides the entry point for the brokerage portal CLI.
// It logs in, keeps the session fresh and runs the profile update flows
// against the portal backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/brokerdesk/portal/internal/buildinfo"
	"github.com/brokerdesk/portal/internal/cmd"
	"github.com/brokerdesk/portal/internal/config"
	"github.com/brokerdesk/portal/internal/logging"
	"github.com/brokerdesk/portal/internal/otp"
	"github.com/brokerdesk/portal/internal/tui"
	"github.com/brokerdesk/portal/internal/util"
	"github.com/brokerdesk/portal/internal/watcher"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    string
		login         bool
		code          string
		logout        bool
		status        bool
		updateEmail   bool
		updateMobile  bool
		accounts      bool
		notifications bool
		markRead      bool
		noBrowser     bool
	)

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&login, "login", false, "Open the login page and exchange the authorization code")
	flag.StringVar(&code, "code", "", "Exchange this authorization code without opening a browser")
	flag.BoolVar(&logout, "logout", false, "Clear the stored session and open the logout page")
	flag.BoolVar(&status, "status", false, "Show whether a session is held")
	flag.BoolVar(&updateEmail, "update-email", false, "Change the registered email address")
	flag.BoolVar(&updateMobile, "update-mobile", false, "Change the registered mobile number")
	flag.BoolVar(&accounts, "accounts", false, "List trading accounts")
	flag.BoolVar(&notifications, "notifications", false, "Show the unread notification count")
	flag.BoolVar(&markRead, "mark-read", false, "With -notifications, mark every notification read")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser automatically")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configFilePath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	applyEnvOverrides(cfg)
	if err = cfg.Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		return 1
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	util.SetLogLevel(cfg)
	log.Debugf("portal %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cmd.NewRuntime(ctx, cfg, &cmd.LoginOptions{NoBrowser: noBrowser})
	if err != nil {
		log.Errorf("failed to initialize: %v", err)
		return 1
	}
	defer func() {
		if errClose := rt.Close(); errClose != nil {
			log.WithError(errClose).Debug("failed to close token store")
		}
	}()

	if _, errStat := os.Stat(configFilePath); errStat == nil {
		if w, errWatch := watcher.NewWatcher(configFilePath, rt.ApplyConfig); errWatch != nil {
			log.WithError(errWatch).Debug("config hot reload disabled")
		} else {
			w.SetConfig(cfg)
			if errStart := w.Start(ctx); errStart == nil {
				defer func() { _ = w.Stop() }()
			}
		}
	}

	rt.PrintPendingFlash(ctx)

	switch {
	case login || code != "":
		err = cmd.DoLogin(ctx, rt, code)
	case logout:
		err = cmd.DoLogout(ctx, rt)
	case updateEmail:
		err = runUpdate(ctx, rt, otp.Email)
	case updateMobile:
		err = runUpdate(ctx, rt, otp.Mobile)
	case accounts:
		err = cmd.DoAccounts(ctx, rt)
	case notifications:
		err = cmd.DoNotifications(ctx, rt, markRead)
	case status:
		err = cmd.DoStatus(rt)
	default:
		flag.Usage()
		return 2
	}
	if err != nil {
		log.WithError(err).Debug("command failed")
		return 1
	}
	return 0
}

// runUpdate hands the terminal to the TUI; log lines go to its status bar.
func runUpdate(ctx context.Context, rt *cmd.Runtime, channel otp.Channel) error {
	hook := tui.NewLogHook(256, log.WarnLevel)
	hook.SetFormatter(&logging.LogFormatter{})
	log.AddHook(hook)

	origLogOutput := log.StandardLogger().Out
	if !rt.Config.LoggingToFile {
		log.SetOutput(io.Discard)
	}
	defer log.SetOutput(origLogOutput)

	return cmd.DoUpdateContact(ctx, rt, cmd.UpdateOptions{Channel: channel, Hook: hook})
}

// applyEnvOverrides lets the environment select the token store, the way a
// deployment without a config file would configure it.
func applyEnvOverrides(cfg *config.Config) {
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if value, ok := lookupEnv("PORTAL_API_BASE_URL", "portal_api_base_url"); ok {
		cfg.APIBaseURL = strings.TrimRight(value, "/")
	}
	if value, ok := lookupEnv("PORTAL_STATE_DIR", "portal_state_dir"); ok {
		cfg.StateDir = value
	}

	ts := &cfg.TokenStore
	if value, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		ts.Type = "postgres"
		ts.DSN = value
		if schema, okSchema := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema"); okSchema {
			ts.Schema = schema
		}
		return
	}
	if value, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		ts.Type = "object"
		ts.Endpoint = value
		if v, okV := lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); okV {
			ts.AccessKey = v
		}
		if v, okV := lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); okV {
			ts.SecretKey = v
		}
		if v, okV := lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket"); okV {
			ts.Bucket = v
		}
		return
	}
	if value, ok := lookupEnv("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		ts.Type = "git"
		ts.GitURL = value
		if v, okV := lookupEnv("GITSTORE_GIT_USERNAME", "gitstore_git_username"); okV {
			ts.GitUsername = v
		}
		if v, okV := lookupEnv("GITSTORE_GIT_TOKEN", "gitstore_git_token"); okV {
			ts.GitPassword = v
		}
		return
	}
	if value, ok := lookupEnv("REDISSTORE_ADDR", "redisstore_addr"); ok {
		ts.Type = "redis"
		ts.RedisAddr = value
		if v, okV := lookupEnv("REDISSTORE_PASSWORD", "redisstore_password"); okV {
			ts.RedisPassword = v
		}
		if v, okV := lookupEnv("REDISSTORE_DB", "redisstore_db"); okV {
			db, errAtoi := strconv.Atoi(v)
			if errAtoi != nil {
				fmt.Fprintf(os.Stderr, "ignoring REDISSTORE_DB=%q: %v\n", v, errAtoi)
			} else {
				ts.RedisDB = db
			}
		}
	}
}
