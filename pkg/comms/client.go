package comms

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

// DefaultReconnectInterval пауза между попытками подключения к менеджеру
const DefaultReconnectInterval = time.Second

// ClientConfig параметры подключения dactransmit к менеджеру
type ClientConfig struct {
	Address           string
	Register          DacTransmitRegister
	ReconnectInterval time.Duration
}

// MessageHandler обработчик сообщений менеджера
type MessageHandler func(env Envelope)

// Client сторона dactransmit: регистрируется у менеджера, сообщает
// состояние связи с DAC и передает команды менеджера обработчику.
// При обрыве переподключается и повторяет регистрацию и последний статус.
type Client struct {
	config  ClientConfig
	handler MessageHandler
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *Conn
	status DacTransmitStatus
}

// NewClient создает клиента
func NewClient(config ClientConfig, handler MessageHandler, logger *zap.Logger) *Client {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	return &Client{
		config:  config,
		handler: handler,
		logger:  logging.Component(logger, "comms_client").With(zap.String("group", config.Register.Group)),
	}
}

// Connected есть ли соединение
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run поддерживает соединение до отмены ctx
func (c *Client) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.closeConn(true) })
	defer stop()

	for ctx.Err() == nil {
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("Нет связи с менеджером", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.ReconnectInterval):
			}
			continue
		}

		c.readLoop(conn)
		c.closeConn(false)
	}
}

func (c *Client) connect(ctx context.Context) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ReconnectInterval*5)
	defer cancel()
	conn, err := Dial(dialCtx, c.config.Address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := conn.Send(MessageDacTransmitRegister, c.config.Register); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if c.status.ConnectedToDac {
		if err := conn.Send(MessageDacTransmitStatus, c.status); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	c.conn = conn
	c.logger.Info("Подключен к менеджеру", zap.String("address", c.config.Address))
	return conn, nil
}

func (c *Client) readLoop(conn *Conn) {
	for {
		env, err := conn.Receive()
		if err != nil {
			if !conn.Closed() && !errors.Is(err, io.EOF) {
				c.logger.Error("Ошибка чтения от менеджера", zap.Error(err))
			}
			return
		}
		if c.handler != nil {
			c.handler(env)
		}
	}
}

// closeConn закрывает текущее соединение; notify отправляет менеджеру уведомление об остановке
func (c *Client) closeConn(notify bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if notify {
		if err := conn.Send(MessageDacTransmitShutdown, DacTransmitShutdown{}); err != nil {
			c.logger.Debug("Уведомление об остановке не отправлено", zap.Error(err))
		}
	}
	_ = conn.Close()
}

// SendStatus сообщает состояние связи с DAC. Статус запоминается и
// повторяется после переподключения.
func (c *Client) SendStatus(connected bool) error {
	c.mu.Lock()
	c.status = DacTransmitStatus{ConnectedToDac: connected}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(MessageDacTransmitStatus, DacTransmitStatus{ConnectedToDac: connected})
}

// Send отправляет произвольное сообщение менеджеру
func (c *Client) Send(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msgType, payload)
}
