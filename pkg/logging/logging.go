// Package logging строит zap логгеры для бинарников и подключает их к fx.
package logging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// New создает логгер по имени уровня: debug, info, warn, error.
// Неизвестный уровень трактуется как info.
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(level) {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	case "warn":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zap логгер: %w", err)
	}
	return logger, nil
}

// OrNop возвращает l или пустой логгер, если l == nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Component именованный логгер компонента
func Component(l *zap.Logger, name string) *zap.Logger {
	return OrNop(l).Named(name)
}

// Params зависимости конструктора логгера в fx
type Params struct {
	fx.In
	Level string `name:"log_level"`
	LC    fx.Lifecycle
}

// Provide конструктор для fx: логгер синхронизируется при остановке приложения
func Provide(p Params) (*zap.Logger, error) {
	logger, err := New(p.Level)
	if err != nil {
		return nil, err
	}
	p.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync на stderr возвращает EINVAL на некоторых терминалах
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

// Module fx модуль логирования. Требует строку с тегом name:"log_level".
// События самого fx подключаются в main через fx.WithLogger(NewFxLogger).
var Module = fx.Module("logger",
	fx.Provide(Provide),
)

// FxLogger пишет события жизненного цикла fx в zap
type FxLogger struct {
	logger *zap.Logger
}

// NewFxLogger создает адаптер fxevent.Logger
func NewFxLogger(logger *zap.Logger) fxevent.Logger {
	return &FxLogger{logger: OrNop(logger).Named("fx")}
}

// LogEvent реализует fxevent.Logger
func (l *FxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		l.hook("OnStart", e.CallerName, e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		l.hook("OnStop", e.CallerName, e.FunctionName, e.Err)
	case *fxevent.Provided:
		if e.Err != nil {
			l.logger.Error("ошибка регистрации конструктора",
				zap.Strings("types", e.OutputTypeNames), zap.Error(e.Err))
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			l.logger.Error("ошибка вызова", zap.String("function", e.FunctionName), zap.Error(e.Err))
		}
	case *fxevent.Stopping:
		l.logger.Info("получен сигнал остановки", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.result("приложение остановлено", e.Err)
	case *fxevent.RollingBack:
		l.logger.Error("откат запуска", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.result("откат завершен", e.Err)
	case *fxevent.Started:
		l.result("приложение запущено", e.Err)
	case *fxevent.LoggerInitialized:
		l.result("логгер fx инициализирован", e.Err)
	}
}

func (l *FxLogger) hook(kind, caller, function string, err error) {
	if err != nil {
		l.logger.Error("ошибка хука "+kind,
			zap.String("caller", caller), zap.String("function", function), zap.Error(err))
		return
	}
	l.logger.Debug("хук "+kind+" выполнен",
		zap.String("caller", caller), zap.String("function", function))
}

func (l *FxLogger) result(msg string, err error) {
	if err != nil {
		l.logger.Error(msg, zap.Error(err))
		return
	}
	l.logger.Info(msg)
}
