package rtp

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Общие константы транспортов
const (
	// DefaultBufferSize размер буфера чтения (MTU Ethernet)
	DefaultBufferSize = 1500

	// DefaultReceiveTimeout дедлайн одного чтения: баланс между
	// отзывчивостью к отмене контекста и нагрузкой на CPU
	DefaultReceiveTimeout = 100 * time.Millisecond

	// VoiceSocketBuffer размер буферов сокета, около 3 секунд кадров DAC
	VoiceSocketBuffer = 65535

	// VoiceSocketPriority SO_PRIORITY для интерактивного аудио
	VoiceSocketPriority = 6

	DSCPExpeditedForwarding = 46 // EF для аудио
	DSCPBestEffort          = 0
)

// Validate проверяет конфигурацию транспорта
func (c *TransportConfig) Validate() error {
	if c.LocalAddr == "" {
		return fmt.Errorf("локальный адрес обязателен")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("размер буфера не может быть отрицательным")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63")
	}
	return nil
}

// applyDefaults заполняет нулевые поля
func (c *TransportConfig) applyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
}

// setSockOptForVoice применяет к UDP сокету буферы, QoS и приоритет
func setSockOptForVoice(conn *net.UDPConn, config TransportConfig) error {
	if conn == nil {
		return fmt.Errorf("соединение не может быть nil")
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applySockOptForVoice(int(fd), config)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	return sockOptErr
}

func applySockOptForVoice(fd int, config TransportConfig) error {
	if err := setSockOptBuffers(fd, VoiceSocketBuffer); err != nil {
		return fmt.Errorf("ошибка установки буферов: %w", err)
	}
	if config.DSCP > 0 {
		if err := setSockOptDSCP(fd, config.DSCP); err != nil {
			return fmt.Errorf("ошибка установки DSCP: %w", err)
		}
	}
	if config.Priority > 0 {
		// в контейнерах приоритет может быть запрещен, это не критично
		_ = setSockOptPriority(fd, config.Priority)
	}
	return nil
}

// resolveUDPAddr разрешает адрес с проверкой на пустую строку
func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return nil, fmt.Errorf("адрес не может быть пустым")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения UDP адреса '%s': %w", addr, err)
	}
	return udpAddr, nil
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
