// dactransmit передает плейлисты одной группы передатчиков в DAC.
// С флагом -maintenance проигрывает одно сообщение обслуживания и завершается.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/comms"
	"github.com/arzzra/dac_transmit/pkg/config"
	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/filelock"
	"github.com/arzzra/dac_transmit/pkg/httpserver"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/playback"
	"github.com/arzzra/dac_transmit/pkg/playlist"
	"github.com/arzzra/dac_transmit/pkg/rtp"
	"github.com/arzzra/dac_transmit/pkg/tones"
	"github.com/arzzra/dac_transmit/pkg/transmitter"
)

// Transports UDP транспорты к портам DAC
type Transports struct {
	Data    *rtp.UDPTransport
	Control *rtp.UDPTransport
}

// NewTransportsParams зависимости NewTransports
type NewTransportsParams struct {
	fx.In
	LC      fx.Lifecycle
	Session dacsession.Config
}

// NewTransports открывает сокеты данных и управления
func NewTransports(p NewTransportsParams) (*Transports, error) {
	dataCfg := rtp.DefaultTransportConfig()
	dataCfg.RemoteAddr = p.Session.DataAddr()
	data, err := rtp.NewUDPTransport(dataCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия порта данных: %w", err)
	}

	controlCfg := rtp.DefaultTransportConfig()
	controlCfg.RemoteAddr = p.Session.ControlAddr()
	controlCfg.ReceiveTimeout = p.Session.HeartbeatInterval
	control, err := rtp.NewUDPTransport(controlCfg)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("ошибка открытия управляющего порта: %w", err)
	}

	t := &Transports{Data: data, Control: control}
	p.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = t.Data.Close()
			return t.Control.Close()
		},
	})
	return t, nil
}

// SessionConfig секция transmit в виде конфигурации сессии
func SessionConfig(cfg *config.Config) (dacsession.Config, error) {
	return cfg.Transmit.SessionConfig()
}

// NewPlaybackStore открывает историю воспроизведения, если задан путь
func NewPlaybackStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (playback.Recorder, error) {
	if cfg.Playback.Path == "" {
		return playback.NopRecorder{}, nil
	}
	storeCfg, err := cfg.Playback.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, err := playback.Open(storeCfg, logging.Component(logger, "playback"))
	if err != nil {
		return nil, err
	}

	var retention *cron.Cron
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c, err := store.ScheduleRetention(playback.DefaultRetentionSchedule)
			retention = c
			return err
		},
		OnStop: func(ctx context.Context) error {
			if retention != nil {
				<-retention.Stop().Done()
			}
			return store.Close()
		},
	})
	return store, nil
}

// NewLineTapResult прослушка и ее маршрут
type NewLineTapResult struct {
	fx.Out
	Tap   *comms.LineTapServer
	Route httpserver.Route `group:"http_routes"`
}

// NewLineTap создает сервер прослушки линии на /tap
func NewLineTap(lc fx.Lifecycle, logger *zap.Logger) NewLineTapResult {
	tap := comms.NewLineTapServer(logger)
	lc.Append(fx.StopHook(tap.Close))
	return NewLineTapResult{
		Tap:   tap,
		Route: httpserver.Route{Pattern: "/tap", Handler: http.Handler(tap)},
	}
}

// NewSessionParams зависимости NewSession
type NewSessionParams struct {
	fx.In
	Config     dacsession.Config
	Transports *Transports
	Recorder   playback.Recorder
	Tap        *comms.LineTapServer
	Logger     *zap.Logger
}

// NewSession создает сессию передачи группы
func NewSession(p NewSessionParams) (*dacsession.Session, error) {
	return dacsession.NewSession(p.Config, p.Transports.Data, p.Transports.Control,
		dacsession.WithLogger(p.Logger),
		dacsession.WithRecorder(p.Recorder),
		dacsession.WithPacketObserver(transmitter.TapObserver(p.Tap, p.Config.Group)),
	)
}

// NewServiceParams зависимости NewService
type NewServiceParams struct {
	fx.In
	Config        *config.Config
	SessionConfig dacsession.Config
	Session       *dacsession.Session
	Logger        *zap.Logger
}

// NewService создает сервис группы с кэшем сообщений и архивом плейлистов
func NewService(p NewServiceParams) (*transmitter.Service, error) {
	timeout, err := p.Config.Playlist.Timeout()
	if err != nil {
		return nil, err
	}
	locks := filelock.NewRegistry(timeout)

	cache, err := dacsession.NewMessageCache(p.SessionConfig.CacheSize, locks, p.Logger)
	if err != nil {
		return nil, err
	}

	var opts []transmitter.Option
	if p.Config.Playlist.Directory != "" && p.Config.Playlist.Archive {
		archiver, err := playlist.NewArchiver(p.Config.Playlist.Directory, locks, p.Logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transmitter.WithArchiver(archiver))
	}

	return transmitter.New(transmitter.Config{
		Group:       p.Config.Transmit.Group,
		PlaylistDir: p.Config.Playlist.Directory,
		Archive:     p.Config.Playlist.Archive,
	}, p.Session, cache, tones.NewStaticTones(tones.DefaultGenerator()), p.Logger, opts...)
}

// LifecycleParams зависимости registerLifecycle
type LifecycleParams struct {
	fx.In
	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Service    *transmitter.Service
	Logger     *zap.Logger
}

// registerLifecycle запускает сервис и клиента менеджера; завершение
// сессии останавливает приложение
func registerLifecycle(p LifecycleParams) error {
	var client *comms.Client
	if p.Config.Transmit.ManagerAddress != "" {
		clientCfg, err := p.Config.Transmit.ClientConfig()
		if err != nil {
			return err
		}
		client = comms.NewClient(clientCfg, p.Service.HandleEnvelope, p.Logger)
		p.Service.SetReporter(client)
	}

	ctx, cancel := context.WithCancel(context.Background())
	clientDone := make(chan struct{})

	p.LC.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := p.Service.Start(startCtx); err != nil {
				cancel()
				return err
			}
			go func() {
				defer close(clientDone)
				if client != nil {
					client.Run(ctx)
				}
			}()
			go func() {
				select {
				case <-p.Service.Done():
					p.Logger.Info("Сессия завершена, остановка процесса")
					_ = p.Shutdowner.Shutdown()
				case <-ctx.Done():
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			err := p.Service.Stop(false)
			select {
			case <-p.Service.Done():
			case <-stopCtx.Done():
				p.Logger.Warn("Сессия не доиграла блок до таймаута остановки")
				_ = p.Service.Stop(true)
			}
			cancel()
			<-clientDone
			return err
		},
	})
	return nil
}

// MaintenanceFlags параметры режима обслуживания из командной строки
type MaintenanceFlags struct {
	Path     string
	Duration time.Duration
	Timeout  time.Duration
}

// NewMaintenance загружает сообщение обслуживания для сессии группы
func NewMaintenance(flags MaintenanceFlags, cfg *config.Config, session *dacsession.Session, logger *zap.Logger) (*transmitter.Maintenance, error) {
	msg, err := transmitter.LoadMaintenanceMessage(flags.Path)
	if err != nil {
		return nil, err
	}
	return transmitter.NewMaintenance(transmitter.MaintenanceConfig{
		Group:    cfg.Transmit.Group,
		Duration: flags.Duration,
		Timeout:  flags.Timeout,
	}, msg, session, tones.NewStaticTones(tones.DefaultGenerator()), logger)
}

// registerMaintenance проигрывает сообщение обслуживания и останавливает
// приложение после завершения сессии
func registerMaintenance(lc fx.Lifecycle, shutdowner fx.Shutdowner, m *transmitter.Maintenance, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := m.Start(startCtx); err != nil {
				cancel()
				return err
			}
			go func() {
				select {
				case <-m.Done():
					logger.Info("Обслуживание завершено, остановка процесса")
					_ = shutdowner.Shutdown()
				case <-ctx.Done():
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			m.Stop(false)
			select {
			case <-m.Done():
			case <-stopCtx.Done():
				m.Stop(true)
			}
			cancel()
			return nil
		},
	})
}

func main() {
	configPath := flag.String("config", "dactransmit.yaml", "путь к файлу конфигурации")
	maintenance := flag.String("maintenance", "", "сообщение обслуживания: проиграть один раз и завершиться")
	duration := flag.Duration("duration", 0, "длительность тестового аудио в режиме обслуживания")
	timeout := flag.Duration("timeout", transmitter.DefaultMaintenanceTimeout, "предельное время работы в режиме обслуживания")
	flag.Parse()

	mode := fx.Options(
		fx.Provide(NewService),
		fx.Invoke(registerLifecycle),
	)
	if *maintenance != "" {
		mode = fx.Options(
			fx.Supply(MaintenanceFlags{Path: *maintenance, Duration: *duration, Timeout: *timeout}),
			fx.Provide(NewMaintenance),
			fx.Invoke(registerMaintenance),
		)
	}

	app := fx.New(
		fx.Supply(config.Path(*configPath)),
		config.Module,
		logging.Module,
		fx.WithLogger(logging.NewFxLogger),
		fx.Provide(
			SessionConfig,
			NewTransports,
			NewPlaybackStore,
			NewLineTap,
			NewSession,
		),
		httpserver.Module,
		mode,
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("не удалось запустить dactransmit: %v", err)
	}

	sig := <-app.Done()
	log.Printf("остановка dactransmit: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("dactransmit остановлен с ошибкой: %v", err)
	}
}
