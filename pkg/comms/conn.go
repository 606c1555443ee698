package comms

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxFrameSize предельная длина JSON конверта
	MaxFrameSize    = 16 << 20
	frameHeaderSize = 4

	writeTimeout = 10 * time.Second
)

// Conn потоковое соединение с кадрами "длина (4 байта, big-endian) + JSON".
// Запись сериализуется через sendLock, чтение ведет одна горутина.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	sendLock sync.Mutex
	closed   atomic.Bool
}

// NewConn оборачивает установленное соединение
func NewConn(c net.Conn) *Conn {
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return &Conn{conn: c, reader: bufio.NewReader(c)}
}

// Dial устанавливает TCP соединение
func Dial(ctx context.Context, address string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", address, err)
	}
	return NewConn(c), nil
}

// Send упаковывает и отправляет сообщение
func (c *Conn) Send(msgType string, payload any) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

// SendEnvelope отправляет конверт одной записью
func (c *Conn) SendEnvelope(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ошибка кодирования конверта %s: %w", env.Type, err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d байт", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("ошибка отправки %s: %w", env.Type, err)
	}
	return nil
}

// Receive читает следующий конверт
func (c *Conn) Receive() (Envelope, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return Envelope{}, fmt.Errorf("%w: %d байт", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: пустой тип", ErrMalformedFrame)
	}
	return env, nil
}

// SetReadDeadline ограничивает время ожидания следующего кадра.
// Нулевое время снимает ограничение.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Closed закрыто ли соединение локально
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Close закрывает соединение. Повторный вызов безопасен.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
