// Package config загружает YAML конфигурацию бинарников и переводит ее
// секции в конфигурации пакетов.
//
//	log_level: info
//	http:
//	  address: ":9100"
//	transmit:
//	  group: north
//	  dac_address: 10.0.0.50
//	  data_port: 18000
//	  control_port: 18001
//	  transmitters: [1, 2]
//	  sync_timeout: 5s
//	comms:
//	  listen_address: ":18100"
//	  groups:
//	    - name: north
//	      transmitters: [1, 2]
//
// Длительности задаются строками time.ParseDuration. Пустое или нулевое
// значение заменяется значением по умолчанию пакета.
package config

import (
	"fmt"
	"os"
	"net"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultLogLevel уровень логирования по умолчанию
const DefaultLogLevel = "info"

// Config содержимое файла конфигурации
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	HTTP      HTTPSection      `yaml:"http"`
	Transmit  TransmitSection  `yaml:"transmit"`
	Simulator SimulatorSection `yaml:"simulator"`
	Comms     CommsSection     `yaml:"comms"`
	Playlist  PlaylistSection  `yaml:"playlist"`
	Playback  PlaybackSection  `yaml:"playback"`
}

// HTTPSection адрес HTTP сервера метрик и прослушки; пустой отключает сервер
type HTTPSection struct {
	Address string `yaml:"address"`
}

// LoadConfig читает файл конфигурации
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", filePath, err)
	}
	return Parse(data)
}

// Parse разбирает конфигурацию из YAML
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет общие поля. Секции проверяются при переводе
// в конфигурации пакетов, так как каждому бинарнику нужна своя.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.HTTP.Address != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Address); err != nil {
			return fmt.Errorf("http.address: %w", err)
		}
	}
	return nil
}
