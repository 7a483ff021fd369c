package app

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"appmanager/internal/cli"
	"appmanager/internal/config"
	"appmanager/internal/container"
	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/reconciler"
	"appmanager/internal/server"
	"appmanager/internal/store"
)

// App represents the main application
type App struct {
	CLI *cli.Manager
}

// New creates a new application instance
func New() *App {
	a := &App{}
	a.CLI = cli.New(a.serve)
	return a
}

// Run starts the application
func (a *App) Run(args []string) error {
	return a.RunWithContext(context.Background(), args)
}

// RunWithContext executes the CLI with a context for cancellation
func (a *App) RunWithContext(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.CLI.ExecuteWithContext(ctx, []string{"--help"})
	}
	return a.CLI.ExecuteWithContext(ctx, args)
}

// serve loads the configuration and runs the daemon until ctx is done
func (a *App) serve(ctx context.Context, configPath string) error {
	var (
		cfg *config.GlobalConfig
		err error
	)
	if configPath != "" {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			return errors.ConfigNotFound(configPath)
		}
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadGlobalConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)

	docker, err := container.NewDockerRuntime(container.DockerOptions{
		Host:       cfg.Runtime.DockerHost,
		PullImages: cfg.Runtime.PullImages,
	})
	if err != nil {
		return err
	}

	d, err := NewDaemon(ctx, cfg, docker)
	if err != nil {
		_ = docker.Close()
		return err
	}
	defer d.Close()

	return d.Run(ctx)
}

// Daemon holds the long-running components of a device
type Daemon struct {
	Config     *config.GlobalConfig
	DB         *db.DB
	Device     *db.Device
	Runtime    container.ContainerRuntime
	Store      *store.Store
	Reconciler *reconciler.Reconciler
	Server     *server.Server

	closer interface{ Close() error }
}

// NewDaemon opens the database, restores persisted state and assembles
// the reconciler and API server around rt.
func NewDaemon(ctx context.Context, cfg *config.GlobalConfig, rt container.ContainerRuntime) (*Daemon, error) {
	dbConfig := db.DefaultConfig()
	dbConfig.Path = cfg.Database.Path
	database, err := db.New(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	hostname, _ := os.Hostname()
	device, err := db.NewDeviceRepository(database).Ensure(ctx, cfg.Device.ID, cfg.Device.Name, db.JSONB{
		"hostname": hostname,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	resilient := container.NewResilientRuntime(rt, container.RetryPolicy{
		MaxAttempts:    cfg.Reconciler.MaxAttempts,
		InitialBackoff: cfg.Reconciler.InitialBackoff.Duration,
		MaxBackoff:     cfg.Reconciler.MaxBackoff.Duration,
		CallTimeout:    cfg.Reconciler.CallTimeout.Duration,
	})

	st := store.New(db.NewSnapshotRepository(database, device.ID))
	if err := st.Load(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to restore state: %w", err)
	}

	runs := db.NewRunRepository(database, device.ID)
	rec := reconciler.New(st, resilient, reconciler.Options{
		PollInterval: cfg.Reconciler.PollInterval.Duration,
		StopTimeout:  cfg.Reconciler.StopTimeout.Duration,
		RunHistory:   cfg.Reconciler.RunHistory,
		Recorder:     runs,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout.Duration
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout.Duration
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout.Duration

	srv := server.New(serverConfig, server.Dependencies{
		Store:      st,
		Reconciler: rec,
		Runtime:    resilient,
		Runs:       runs,
		Database:   database,
		Device:     device,
	})

	d := &Daemon{
		Config:     cfg,
		DB:         database,
		Device:     device,
		Runtime:    resilient,
		Store:      st,
		Reconciler: rec,
		Server:     srv,
	}
	if c, ok := rt.(interface{ Close() error }); ok {
		d.closer = c
	}
	return d, nil
}

// Run drives the reconciler and serves the API until ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.WithFields(logger.Fields{
		"device_id":   d.Device.ID,
		"device_name": d.Device.Name,
		"addr":        d.Config.Server.Addr(),
		"operation":   "server_start",
	}).Info("Starting appmanager")

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		d.Reconciler.Run(ctx)
	}()

	err := d.Server.Start(ctx)
	cancel()
	<-loopDone
	return err
}

// Close releases the database and runtime client
func (d *Daemon) Close() error {
	var firstErr error
	if d.closer != nil {
		firstErr = d.closer.Close()
	}
	if err := d.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
