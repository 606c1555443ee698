package dacsession

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// ControlLink управляющий канал DAC: сообщения синхронизации и статусы
type ControlLink struct {
	transport rtp.Transport
	logger    *zap.Logger
}

// NewControlLink создает управляющий канал поверх транспорта
func NewControlLink(transport rtp.Transport, logger *zap.Logger) *ControlLink {
	return &ControlLink{transport: transport, logger: logger}
}

func (c *ControlLink) send(msg string) error {
	if err := c.transport.Send([]byte(msg)); err != nil {
		return newSessionError(ErrorCodeSyncFailed, "", "ошибка отправки управляющего сообщения "+msg, err)
	}
	return nil
}

// Synchronize очищает буфер DAC и запрашивает синхронизацию
func (c *ControlLink) Synchronize() error {
	if err := c.send(ClearBufferMessage); err != nil {
		return err
	}
	return c.send(InitialSyncMessage)
}

// Heartbeat поддерживает синхронизацию
func (c *ControlLink) Heartbeat() error {
	return c.send(HeartbeatMessage)
}

// statusReply результат одного чтения управляющего канала
type statusReply struct {
	status   *DacStatus
	rejected bool
}

// Receive читает одно сообщение DAC. Таймаут транспорта возвращается как есть,
// см. rtp.IsTimeout.
func (c *ControlLink) Receive(ctx context.Context) (statusReply, error) {
	data, _, err := c.transport.Receive(ctx)
	if err != nil {
		return statusReply{}, err
	}

	raw := strings.TrimRight(string(data), "\x00\r\n")
	if raw == RejectMessage {
		return statusReply{rejected: true}, nil
	}

	st, err := ParseDacStatus(raw)
	if err != nil {
		return statusReply{}, err
	}
	return statusReply{status: st}, nil
}
