// Package httpserver HTTP сервер бинарников: /metrics и дополнительные
// маршруты (прослушка линии), привязанный к жизненному циклу fx.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/config"
	"github.com/arzzra/dac_transmit/pkg/logging"
)

const readHeaderTimeout = 5 * time.Second

// Route дополнительный маршрут сервера
type Route struct {
	Pattern string
	Handler http.Handler
}

// Server HTTP сервер с /metrics
type Server struct {
	server *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New создает сервер на address
func New(address string, routes []Route, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	return &Server{
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logging.Component(logger, "http"),
	}
}

// Start занимает порт и обслуживает запросы в фоне
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("ошибка запуска HTTP сервера %s: %w", s.server.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP сервер остановлен с ошибкой", zap.Error(err))
		}
	}()
	s.logger.Info("HTTP сервер запущен", zap.Stringer("address", ln.Addr()))
	return nil
}

// Addr адрес после Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop завершает обработку запросов
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-done
	return err
}

// Params зависимости Register
type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Logger *zap.Logger
	Routes []Route `group:"http_routes"`
}

// Register запускает сервер вместе с приложением, если задан http.address
func Register(p Params) {
	if p.Config.HTTP.Address == "" {
		return
	}
	s := New(p.Config.HTTP.Address, p.Routes, p.Logger)
	p.LC.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

// AsRoute добавляет маршрут в группу http_routes
func AsRoute(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"http_routes"`))
}

// Module fx модуль HTTP сервера
var Module = fx.Module("http",
	fx.Invoke(Register),
)
