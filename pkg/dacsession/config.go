package dacsession

import (
	"fmt"
	"time"

	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// Значения по умолчанию
const (
	DefaultCycleTime         = 20 * time.Millisecond
	DefaultInitialCycleTime  = 5 * time.Millisecond
	DefaultWatermarkPackets  = 25
	DefaultAlertLowPackets   = 5
	DefaultAlertHighPackets  = 250
	DefaultHeartbeatInterval = 300 * time.Millisecond
	DefaultSyncTimeout       = 5 * time.Second
	DefaultRestartThreshold  = 10 * time.Second
	DefaultCacheSize         = 64

	// pacingWindow интервал между статусами DAC, за который
	// сессия догоняет отметку заполнения буфера
	pacingWindow = 100 * time.Millisecond
	pacingSlack  = 5
)

// Config конфигурация сессии передачи
type Config struct {
	ID    string // идентификатор; пустой заменяется на uuid
	Group string // имя группы передатчиков

	DacAddress   string
	DataPort     int
	ControlPort  int
	Transmitters []int // номера передатчиков 1..4

	CycleTime        time.Duration // период отправки при заполненном буфере
	InitialCycleTime time.Duration // период до первого статуса DAC
	WatermarkPackets int           // целевое заполнение буфера DAC
	AlertLowPackets  int
	AlertHighPackets int

	HeartbeatInterval time.Duration
	SyncTimeout       time.Duration // без статуса дольше этого синхронизация потеряна
	RestartThreshold  time.Duration // простой дольше этого перезапускает текущий блок

	CacheSize int // записей в кэше аудио сообщений
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Transmitters:      []int{1},
		CycleTime:         DefaultCycleTime,
		InitialCycleTime:  DefaultInitialCycleTime,
		WatermarkPackets:  DefaultWatermarkPackets,
		AlertLowPackets:   DefaultAlertLowPackets,
		AlertHighPackets:  DefaultAlertHighPackets,
		HeartbeatInterval: DefaultHeartbeatInterval,
		SyncTimeout:       DefaultSyncTimeout,
		RestartThreshold:  DefaultRestartThreshold,
		CacheSize:         DefaultCacheSize,
	}
}

// ApplyDefaults заполняет нулевые поля значениями по умолчанию
func (c *Config) ApplyDefaults() {
	if c.CycleTime == 0 {
		c.CycleTime = DefaultCycleTime
	}
	if c.InitialCycleTime == 0 {
		c.InitialCycleTime = DefaultInitialCycleTime
	}
	if c.WatermarkPackets == 0 {
		c.WatermarkPackets = DefaultWatermarkPackets
	}
	if c.AlertLowPackets == 0 {
		c.AlertLowPackets = DefaultAlertLowPackets
	}
	if c.AlertHighPackets == 0 {
		c.AlertHighPackets = DefaultAlertHighPackets
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.RestartThreshold == 0 {
		c.RestartThreshold = DefaultRestartThreshold
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if _, err := c.TransmitterMask(); err != nil {
		return err
	}
	if c.CycleTime <= 0 || c.InitialCycleTime <= 0 {
		return fmt.Errorf("период отправки должен быть положительным")
	}
	if c.WatermarkPackets <= 0 || c.WatermarkPackets >= JitterBufferSlots {
		return fmt.Errorf("отметка заполнения буфера вне диапазона 1..%d: %d", JitterBufferSlots-1, c.WatermarkPackets)
	}
	if c.AlertLowPackets >= c.AlertHighPackets {
		return fmt.Errorf("нижний порог буфера %d не меньше верхнего %d", c.AlertLowPackets, c.AlertHighPackets)
	}
	if c.SyncTimeout <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("таймауты синхронизации должны быть положительными")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("размер кэша не может быть отрицательным")
	}
	return nil
}

// TransmitterMask строит маску адресации из списка передатчиков
func (c *Config) TransmitterMask() (rtp.TransmitterMask, error) {
	if len(c.Transmitters) == 0 {
		return 0, fmt.Errorf("не задан ни один передатчик")
	}
	return rtp.NewTransmitterMask(c.Transmitters...)
}

// DataAddr адрес приема кадров DAC
func (c *Config) DataAddr() string {
	return fmt.Sprintf("%s:%d", c.DacAddress, c.DataPort)
}

// ControlAddr адрес управляющего канала DAC
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.DacAddress, c.ControlPort)
}

// nextCycleTime период отправки по заполнению буфера DAC:
// при заполнении не ниже отметки обычный период, иначе чаще,
// чтобы догнать отметку до следующего статуса.
func (c *Config) nextCycleTime(bufferSize int) time.Duration {
	diff := c.WatermarkPackets - bufferSize
	if diff <= 0 {
		return c.CycleTime
	}
	return pacingWindow / time.Duration(diff+pacingSlack)
}
