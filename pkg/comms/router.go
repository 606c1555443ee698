package comms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

// Handler владелец соединений с определенным типом первого сообщения.
// Возвращает true, если забирает соединение себе; иначе роутер его закроет.
// Долгоживущие соединения обслуживаются в собственной горутине обработчика.
type Handler interface {
	HandleConnection(conn *Conn, first Envelope) bool
}

// HandlerFunc адаптер функции к Handler
type HandlerFunc func(conn *Conn, first Envelope) bool

func (f HandlerFunc) HandleConnection(conn *Conn, first Envelope) bool {
	return f(conn, first)
}

// RouterConfig параметры приема соединений
type RouterConfig struct {
	ListenAddress string
	// PoolSize число одновременно разбираемых новых соединений
	PoolSize int
	// AcceptTimeout ожидание свободного обработчика и первого кадра
	AcceptTimeout time.Duration
}

const (
	DefaultPoolSize      = 16
	DefaultAcceptTimeout = 10 * time.Second
)

func (c *RouterConfig) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
}

// Router принимает TCP соединения и передает каждое обработчику,
// зарегистрированному для типа первого сообщения. Соединение с
// неизвестным типом закрывается.
type Router struct {
	config RouterConfig
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	listener net.Listener

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewRouter создает роутер. Прием начинается после Listen и Serve.
func NewRouter(config RouterConfig, logger *zap.Logger) *Router {
	config.applyDefaults()
	return &Router{
		config:   config,
		logger:   logging.Component(logger, "router"),
		handlers: make(map[string]Handler),
		slots:    make(chan struct{}, config.PoolSize),
	}
}

// Register назначает обработчик типу сообщения. Повторная регистрация запрещена.
func (r *Router) Register(msgType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[msgType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, msgType)
	}
	r.handlers[msgType] = h
	return nil
}

// Unregister снимает обработчик
func (r *Router) Unregister(msgType string) {
	r.mu.Lock()
	delete(r.handlers, msgType)
	r.mu.Unlock()
}

func (r *Router) handler(msgType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[msgType]
}

// Listen открывает TCP порт
func (r *Router) Listen() error {
	l, err := net.Listen("tcp", r.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("не удалось открыть порт управления %s: %w", r.config.ListenAddress, err)
	}
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
	r.logger.Info("Порт управления открыт", zap.Stringer("address", l.Addr()))
	return nil
}

// Addr адрес открытого порта либо nil
func (r *Router) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Serve принимает соединения до отмены ctx или Close
func (r *Router) Serve(ctx context.Context) error {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()
	if l == nil {
		return errors.New("порт управления не открыт")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info("Прием соединений остановлен")
				return nil
			}
			r.logger.Error("Ошибка приема соединения", zap.Error(err))
			continue
		}
		r.dispatch(ctx, NewConn(c))
	}
}

// dispatch ждет свободный слот не дольше AcceptTimeout
func (r *Router) dispatch(ctx context.Context, conn *Conn) {
	timer := time.NewTimer(r.config.AcceptTimeout)
	defer timer.Stop()

	select {
	case r.slots <- struct{}{}:
	case <-timer.C:
		r.logger.Error("Нет свободных обработчиков, соединение закрыто",
			zap.Stringer("remote", conn.RemoteAddr()))
		connectionsRejectedTotal.WithLabelValues("pool_exhausted").Inc()
		_ = conn.Close()
		return
	case <-ctx.Done():
		_ = conn.Close()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		r.accept(conn)
	}()
}

func (r *Router) accept(conn *Conn) {
	keep := false
	defer func() {
		if !keep {
			_ = conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(r.config.AcceptTimeout))
	first, err := conn.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.logger.Debug("Соединение закрыто до первого сообщения",
				zap.Stringer("remote", conn.RemoteAddr()))
		} else {
			r.logger.Warn("Ошибка чтения первого сообщения",
				zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		}
		connectionsRejectedTotal.WithLabelValues("read_error").Inc()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	h := r.handler(first.Type)
	if h == nil {
		r.logger.Error("Нет обработчика для типа сообщения, соединение закрыто",
			zap.String("type", first.Type), zap.Stringer("remote", conn.RemoteAddr()))
		connectionsRejectedTotal.WithLabelValues("unknown_type").Inc()
		return
	}

	connectionsTotal.WithLabelValues(first.Type).Inc()
	keep = h.HandleConnection(conn, first)
}

// Close закрывает порт и ждет разбора принятых соединений
func (r *Router) Close() error {
	r.mu.Lock()
	l := r.listener
	r.mu.Unlock()

	var err error
	if l != nil {
		if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	r.wg.Wait()
	return err
}
