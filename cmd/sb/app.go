package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/viper"

	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/engine"
	"github.com/syncboard/syncboard/internal/errtrack"
	"github.com/syncboard/syncboard/internal/locks"
	"github.com/syncboard/syncboard/internal/logging"
	"github.com/syncboard/syncboard/internal/queue"
	"github.com/syncboard/syncboard/internal/remote"
	"github.com/syncboard/syncboard/internal/store"
)

// app holds the wired service graph every command works against. Commands
// construct it with newApp, use what they need, and Close it.
type app struct {
	cfg     *config.Config
	viper   *viper.Viper
	store   store.Store
	remote  remote.Interface
	queue   *queue.Queue
	tracker *errtrack.Tracker
	diag    *logging.Logger
	engine  *engine.Engine
	locks   *locks.Manager
	opLog   *log.Logger
}

// newApp loads configuration and wires the services. verbose routes
// operational logging to stderr; otherwise it is discarded so command
// output stays clean.
func newApp(verbose bool) (*app, error) {
	cfg, v, err := config.Load()
	if err != nil {
		return nil, err
	}

	logSink := io.Discard
	if verbose {
		logSink = os.Stderr
	}
	opLog := log.New(logSink, "[sb] ", log.LstdFlags)

	st := store.Open(cfg.Storage.Path, opLog)
	diag := logging.New(cfg.LoggingConfig(), st)
	q := queue.New(st, cfg.Sync.MaxRetries)
	tracker := errtrack.New(st)

	a := &app{
		cfg:     cfg,
		viper:   v,
		store:   st,
		queue:   q,
		tracker: tracker,
		diag:    diag,
		opLog:   opLog,
	}

	if cfg.Storage.Backend == "remote" {
		if cfg.Storage.RemoteURL == "" {
			st.Close()
			return nil, fmt.Errorf("storage.backend is \"remote\" but storage.remote_url is empty")
		}
		rc := remote.New(cfg.Storage.RemoteURL, cfg.Storage.RemoteKey)
		a.remote = rc
		a.engine = engine.New(st, rc, q, tracker, diag, engine.Options{
			SyncInterval: cfg.SyncInterval(),
			RetryDelay:   cfg.RetryDelay(),
			Logger:       log.New(logSink, "[sync] ", log.LstdFlags),
		})
		a.locks = locks.New(rc, locks.Owner{
			UserID: cfg.User.ID,
			Email:  cfg.User.Email,
			Name:   cfg.User.Name,
		}, diag, locks.Options{
			SweepInterval: cfg.SweepInterval(),
			Logger:        log.New(logSink, "[locks] ", log.LstdFlags),
		})
	}

	return a, nil
}

// requireRemote errors for commands that only make sense against a remote
// backend.
func (a *app) requireRemote() error {
	if a.remote == nil {
		return fmt.Errorf("this command needs a remote backend; set storage.backend = \"remote\" in syncboard.toml")
	}
	return nil
}

func (a *app) Close() {
	if a.diag != nil {
		a.diag.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

var verboseFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log operational detail to stderr")
}
