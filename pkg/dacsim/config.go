package dacsim

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// Значения по умолчанию
const (
	DefaultChannelCount      = 4
	DefaultFirstChannelPort  = 18000
	DefaultListenAddress     = "0.0.0.0"
	DefaultMinBufferSize     = 5
	DefaultSyncTimeout       = 5 * time.Second
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultCycleTime         = 20 * time.Millisecond
)

// Config конфигурация симулятора DAC
type Config struct {
	ChannelCount     int    // входных каналов и выходов, 1..4
	FirstChannelPort int    // порты выделяются парами: данные p, управление p+1
	ListenAddress    string // адрес приема

	// RebroadcastAddress адрес потока ретрансляции; пустой отключает поток
	RebroadcastAddress string

	MinBufferSize     int // пакетов в буфере до начала вещания
	SyncTimeout       time.Duration
	HeartbeatInterval time.Duration
	CycleTime         time.Duration
}

// ChannelConfig порты одного входного канала
type ChannelConfig struct {
	Number      int
	DataPort    int
	ControlPort int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ChannelCount:      DefaultChannelCount,
		FirstChannelPort:  DefaultFirstChannelPort,
		ListenAddress:     DefaultListenAddress,
		MinBufferSize:     DefaultMinBufferSize,
		SyncTimeout:       DefaultSyncTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		CycleTime:         DefaultCycleTime,
	}
}

// ApplyDefaults заполняет нулевые поля
func (c *Config) ApplyDefaults() {
	if c.ChannelCount == 0 {
		c.ChannelCount = DefaultChannelCount
	}
	if c.FirstChannelPort == 0 {
		c.FirstChannelPort = DefaultFirstChannelPort
	}
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.MinBufferSize == 0 {
		c.MinBufferSize = DefaultMinBufferSize
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CycleTime == 0 {
		c.CycleTime = DefaultCycleTime
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.ChannelCount < 1 || c.ChannelCount > rtp.MaxTransmitters {
		return fmt.Errorf("число каналов %d вне диапазона 1..%d", c.ChannelCount, rtp.MaxTransmitters)
	}
	last := c.FirstChannelPort + 2*c.ChannelCount - 1
	if c.FirstChannelPort < 1 || last > 65535 {
		return fmt.Errorf("порты каналов %d..%d вне диапазона", c.FirstChannelPort, last)
	}
	if c.MinBufferSize < 1 || c.MinBufferSize > BufferCapacity {
		return fmt.Errorf("минимальный размер буфера %d вне диапазона 1..%d", c.MinBufferSize, BufferCapacity)
	}
	if c.RebroadcastAddress != "" {
		if _, _, err := net.SplitHostPort(c.RebroadcastAddress); err != nil {
			return fmt.Errorf("некорректный адрес ретрансляции %q: %w", c.RebroadcastAddress, err)
		}
	}
	if c.SyncTimeout <= 0 || c.HeartbeatInterval <= 0 || c.CycleTime <= 0 {
		return fmt.Errorf("интервалы должны быть положительными")
	}
	return nil
}

// Channels порты каналов по порядку
func (c *Config) Channels() []ChannelConfig {
	out := make([]ChannelConfig, c.ChannelCount)
	port := c.FirstChannelPort
	for i := range out {
		out[i] = ChannelConfig{Number: i + 1, DataPort: port, ControlPort: port + 1}
		port += 2
	}
	return out
}

func (c *Config) listen(port int) string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(port))
}
