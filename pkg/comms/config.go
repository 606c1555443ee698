package comms

import (
	"fmt"
	"net"
	"time"

	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// DefaultListenAddress порт управления менеджера по умолчанию
const DefaultListenAddress = ":18100"

// Config конфигурация менеджера связи
type Config struct {
	ListenAddress string
	// LocalID адрес порта управления этого узла, как его видят другие узлы
	LocalID      string
	ClusterHosts []string
	Groups       []GroupConfig

	PoolSize            int
	AcceptTimeout       time.Duration
	RequestTimeout      time.Duration
	ClusterTimeout      time.Duration
	MaintenanceInterval time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ListenAddress:       DefaultListenAddress,
		PoolSize:            DefaultPoolSize,
		AcceptTimeout:       DefaultAcceptTimeout,
		RequestTimeout:      DefaultRequestTimeout,
		ClusterTimeout:      DefaultClusterTimeout,
		MaintenanceInterval: DefaultMaintenanceInterval,
	}
}

// ApplyDefaults заполняет нулевые поля
func (c *Config) ApplyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ClusterTimeout == 0 {
		c.ClusterTimeout = DefaultClusterTimeout
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("некорректный адрес управления %q: %w", c.ListenAddress, err)
	}
	if len(c.ClusterHosts) > 0 {
		if c.LocalID == "" {
			return fmt.Errorf("для кластера нужен local_id")
		}
		found := false
		for _, h := range c.ClusterHosts {
			if _, _, err := net.SplitHostPort(h); err != nil {
				return fmt.Errorf("некорректный адрес узла кластера %q: %w", h, err)
			}
			found = found || h == c.LocalID
		}
		if !found {
			return fmt.Errorf("узел %s не входит в список узлов кластера", c.LocalID)
		}
	}

	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("группа без имени")
		}
		if seen[g.Name] {
			return fmt.Errorf("группа %s указана дважды", g.Name)
		}
		seen[g.Name] = true
		if _, err := rtp.NewTransmitterMask(g.Transmitters...); err != nil {
			return fmt.Errorf("группа %s: %w", g.Name, err)
		}
	}
	return nil
}

// GroupNames имена групп в порядке конфигурации
func (c *Config) GroupNames() []string {
	names := make([]string, len(c.Groups))
	for i, g := range c.Groups {
		names[i] = g.Name
	}
	return names
}

func (c *Config) routerConfig() RouterConfig {
	return RouterConfig{
		ListenAddress: c.ListenAddress,
		PoolSize:      c.PoolSize,
		AcceptTimeout: c.AcceptTimeout,
	}
}

func (c *Config) clusterConfig() ClusterConfig {
	return ClusterConfig{
		LocalID:             c.LocalID,
		Hosts:               c.ClusterHosts,
		Groups:              c.GroupNames(),
		RequestTimeout:      c.RequestTimeout,
		ClusterTimeout:      c.ClusterTimeout,
		MaintenanceInterval: c.MaintenanceInterval,
	}
}
