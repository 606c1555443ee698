package rtp

import (
	"context"
	"net"
	"time"
)

// Transport датаграммный транспорт кадров DAC и управляющих сообщений.
// Используется сессией передачи и симулятором DAC.
type Transport interface {
	// Send отправляет датаграмму на удаленный адрес
	Send(data []byte) error

	// SendTo отправляет датаграмму на указанный адрес
	SendTo(data []byte, addr net.Addr) error

	// Receive получает датаграмму с указанием источника
	Receive(ctx context.Context) ([]byte, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// RemoteAddr возвращает удаленный адрес транспорта (если применимо)
	RemoteAddr() net.Addr

	// Close закрывает транспорт
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// PacketSender отправляет кадры DAC
type PacketSender interface {
	SendPacket(p *Packet) error
}

// TransportConfig конфигурация UDP транспорта
type TransportConfig struct {
	LocalAddr      string        // Локальный адрес для привязки
	RemoteAddr     string        // Удаленный адрес для отправки (опционально)
	BufferSize     int           // Размер буфера для чтения
	DSCP           int           // DSCP маркировка (0 = не менять)
	Priority       int           // SO_PRIORITY (только Linux, 0 = не менять)
	ReceiveTimeout time.Duration // Дедлайн одного чтения
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		LocalAddr:      ":0",
		BufferSize:     DefaultBufferSize,
		DSCP:           DSCPExpeditedForwarding,
		Priority:       VoiceSocketPriority,
		ReceiveTimeout: DefaultReceiveTimeout,
	}
}
