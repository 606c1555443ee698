// dacsim программный симулятор DAC для стендов без оборудования.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/config"
	"github.com/arzzra/dac_transmit/pkg/dacsim"
	"github.com/arzzra/dac_transmit/pkg/httpserver"
	"github.com/arzzra/dac_transmit/pkg/logging"
)

// NewSimulator создает симулятор по секции simulator
func NewSimulator(cfg *config.Config, logger *zap.Logger) (*dacsim.Simulator, error) {
	simCfg, err := cfg.Simulator.SimulatorConfig()
	if err != nil {
		return nil, err
	}
	return dacsim.New(simCfg, logger)
}

// registerLifecycle привязывает симулятор к жизненному циклу приложения
func registerLifecycle(lc fx.Lifecycle, sim *dacsim.Simulator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// контекст OnStart отменяется после запуска приложения
			return sim.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return sim.Stop()
		},
	})
}

func main() {
	configPath := flag.String("config", "dacsim.yaml", "путь к файлу конфигурации")
	flag.Parse()

	app := fx.New(
		fx.Supply(config.Path(*configPath)),
		config.Module,
		logging.Module,
		fx.WithLogger(logging.NewFxLogger),
		fx.Provide(NewSimulator),
		httpserver.Module,
		fx.Invoke(registerLifecycle),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("не удалось запустить симулятор: %v", err)
	}

	sig := <-app.Done()
	log.Printf("остановка симулятора: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("симулятор остановлен с ошибкой: %v", err)
	}
}
