// Package bootstrap wires the engine's components into a running process.
package bootstrap

import (
	"go.uber.org/dig"

	"keelstore/monitoring/exporter"
	"keelstore/pkg/alert"
	"keelstore/pkg/config"
	"keelstore/pkg/engine"
	"keelstore/pkg/logging"
)

// App is the assembled process: the engine plus its observability surface.
type App struct {
	Config     config.Config
	Engine     *engine.Engine
	Exporter   *exporter.Exporter
	dispatcher *alert.QueueDispatcher
}

// Build constructs the application container.
func Build() (*App, error) {
	container := dig.New()
	constructors := []any{
		config.Load,
		newDispatcher,
		newEngine,
		exporter.New,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return nil, err
		}
	}

	var app *App
	err := container.Invoke(func(cfg config.Config, e *engine.Engine,
		x *exporter.Exporter, d *alert.QueueDispatcher) {
		app = &App{Config: cfg, Engine: e, Exporter: x, dispatcher: d}
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newDispatcher() *alert.QueueDispatcher {
	return alert.NewQueueDispatcher(64, func(n alert.Notification) {
		logging.Info("alert notification",
			"category", n.Category, "level", n.Level.String(),
			"count", n.Count, "sequence", n.Sequence)
	})
}

func newEngine(cfg config.Config, dispatcher *alert.QueueDispatcher) (*engine.Engine, error) {
	if err := logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		OutputPath: cfg.LogPath,
	}); err != nil {
		logging.InitDefault()
	}
	return engine.Open(cfg, dispatcher)
}

// Close shuts the application down in dependency order.
func (a *App) Close() error {
	err := a.Engine.Close()
	a.dispatcher.Close()
	return err
}
