package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPTransport реализует Transport поверх UDP.
// Один сокет используется и для отправки, и для приема.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает UDP транспорт
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация транспорта: %w", err)
	}

	localAddr, err := resolveUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if err := setSockOptForVoice(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	transport := &UDPTransport{
		conn:   conn,
		config: config,
		active: true,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := resolveUDPAddr(config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка удаленного адреса: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	return transport, nil
}

// Send отправляет датаграмму на удаленный адрес
func (t *UDPTransport) Send(data []byte) error {
	t.mutex.RLock()
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}
	return t.SendTo(data, remoteAddr)
}

// SendTo отправляет датаграмму на addr
func (t *UDPTransport) SendTo(data []byte, addr net.Addr) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return errTransportInactive
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := resolveUDPAddr(addr.String())
		if err != nil {
			return err
		}
		udpAddr = resolved
	}

	if _, err := conn.WriteToUDP(data, udpAddr); err != nil {
		sendErrorsTotal.Inc()
		return classifyNetworkError("UDP write", err)
	}
	datagramsSentTotal.Inc()
	return nil
}

// SendPacket сериализует и отправляет кадр DAC целиком
func (t *UDPTransport) SendPacket(p *Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	return t.Send(data)
}

// Receive получает датаграмму. При отсутствии данных в течение
// ReceiveTimeout возвращает ошибку таймаута (см. IsTimeout).
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	timeout := t.config.ReceiveTimeout
	t.mutex.RUnlock()

	if !active {
		return nil, nil, errTransportInactive
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(timeout))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, classifyNetworkError("UDP read", err)
	}

	datagramsReceivedTotal.Inc()
	return buffer[:n], addr, nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// SetRemoteAddr устанавливает удаленный адрес
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := resolveUDPAddr(addr)
	if err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr
	return nil
}

// Close закрывает транспорт
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}
