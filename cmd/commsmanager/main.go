// commsmanager менеджер связи: доставляет команды процессам dactransmit
// и распределяет группы между узлами кластера.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/comms"
	"github.com/arzzra/dac_transmit/pkg/config"
	"github.com/arzzra/dac_transmit/pkg/httpserver"
	"github.com/arzzra/dac_transmit/pkg/logging"
)

// NewManagerParams зависимости NewManager
type NewManagerParams struct {
	fx.In
	Path   config.Path
	Config *config.Config
	Logger *zap.Logger
}

// NewManager создает менеджер. Конфигурация перечитывается из того же
// файла по запросу узлов кластера.
func NewManager(p NewManagerParams) (*comms.Manager, error) {
	commsCfg, err := p.Config.Comms.CommsConfig()
	if err != nil {
		return nil, err
	}
	loader := func() (comms.Config, error) {
		cfg, err := config.LoadConfig(string(p.Path))
		if err != nil {
			return comms.Config{}, err
		}
		return cfg.Comms.CommsConfig()
	}
	return comms.NewManager(commsCfg, p.Logger, comms.WithConfigLoader(loader))
}

func registerLifecycle(lc fx.Lifecycle, manager *comms.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return manager.Start(context.Background())
		},
		OnStop: manager.Stop,
	})
}

func main() {
	configPath := flag.String("config", "commsmanager.yaml", "путь к файлу конфигурации")
	flag.Parse()

	app := fx.New(
		fx.Supply(config.Path(*configPath)),
		config.Module,
		logging.Module,
		fx.WithLogger(logging.NewFxLogger),
		fx.Provide(NewManager),
		httpserver.Module,
		fx.Invoke(registerLifecycle),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("не удалось запустить менеджер связи: %v", err)
	}

	sig := <-app.Done()
	log.Printf("остановка менеджера связи: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("менеджер связи остановлен с ошибкой: %v", err)
	}
}
