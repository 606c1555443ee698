package config

import (
	"fmt"
	"time"

	"github.com/arzzra/dac_transmit/pkg/comms"
	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/dacsim"
	"github.com/arzzra/dac_transmit/pkg/filelock"
	"github.com/arzzra/dac_transmit/pkg/playback"
)

// TransmitSection процесс передачи одной группы
type TransmitSection struct {
	ID           string `yaml:"id"`
	Group        string `yaml:"group"`
	DacAddress   string `yaml:"dac_address"`
	DataPort     int    `yaml:"data_port"`
	ControlPort  int    `yaml:"control_port"`
	Transmitters []int  `yaml:"transmitters"`

	CycleTime         string `yaml:"cycle_time"`
	InitialCycleTime  string `yaml:"initial_cycle_time"`
	WatermarkPackets  int    `yaml:"watermark_packets"`
	AlertLowPackets   int    `yaml:"alert_low_packets"`
	AlertHighPackets  int    `yaml:"alert_high_packets"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	SyncTimeout       string `yaml:"sync_timeout"`
	RestartThreshold  string `yaml:"restart_threshold"`
	CacheSize         int    `yaml:"cache_size"`

	// ManagerAddress порт управления менеджера связи; пустой работает без менеджера
	ManagerAddress    string `yaml:"manager_address"`
	ReconnectInterval string `yaml:"reconnect_interval"`
}

// SessionConfig конфигурация сессии передачи
func (s TransmitSection) SessionConfig() (dacsession.Config, error) {
	var d durations
	cfg := dacsession.Config{
		ID:                s.ID,
		Group:             s.Group,
		DacAddress:        s.DacAddress,
		DataPort:          s.DataPort,
		ControlPort:       s.ControlPort,
		Transmitters:      s.Transmitters,
		CycleTime:         d.parse("transmit.cycle_time", s.CycleTime, dacsession.DefaultCycleTime),
		InitialCycleTime:  d.parse("transmit.initial_cycle_time", s.InitialCycleTime, dacsession.DefaultInitialCycleTime),
		WatermarkPackets:  s.WatermarkPackets,
		AlertLowPackets:   s.AlertLowPackets,
		AlertHighPackets:  s.AlertHighPackets,
		HeartbeatInterval: d.parse("transmit.heartbeat_interval", s.HeartbeatInterval, dacsession.DefaultHeartbeatInterval),
		SyncTimeout:       d.parse("transmit.sync_timeout", s.SyncTimeout, dacsession.DefaultSyncTimeout),
		RestartThreshold:  d.parse("transmit.restart_threshold", s.RestartThreshold, dacsession.DefaultRestartThreshold),
		CacheSize:         s.CacheSize,
	}
	if d.err != nil {
		return dacsession.Config{}, d.err
	}
	cfg.ApplyDefaults()
	if cfg.DacAddress == "" || cfg.DataPort == 0 || cfg.ControlPort == 0 {
		return dacsession.Config{}, fmt.Errorf("transmit: нужны dac_address, data_port и control_port")
	}
	if err := cfg.Validate(); err != nil {
		return dacsession.Config{}, fmt.Errorf("transmit: %w", err)
	}
	return cfg, nil
}

// ClientConfig подключение к менеджеру связи
func (s TransmitSection) ClientConfig() (comms.ClientConfig, error) {
	interval, err := ParseDurationOrDefault("transmit.reconnect_interval", s.ReconnectInterval, comms.DefaultReconnectInterval)
	if err != nil {
		return comms.ClientConfig{}, err
	}
	return comms.ClientConfig{
		Address: s.ManagerAddress,
		Register: comms.DacTransmitRegister{
			Group:        s.Group,
			Transmitters: s.Transmitters,
			DacAddress:   s.DacAddress,
			DataPort:     s.DataPort,
		},
		ReconnectInterval: interval,
	}, nil
}

// SimulatorSection симулятор DAC
type SimulatorSection struct {
	ChannelCount       int    `yaml:"channel_count"`
	FirstChannelPort   int    `yaml:"first_channel_port"`
	ListenAddress      string `yaml:"listen_address"`
	RebroadcastAddress string `yaml:"rebroadcast_address"`
	MinBufferSize      int    `yaml:"min_buffer_size"`
	SyncTimeout        string `yaml:"sync_timeout"`
	HeartbeatInterval  string `yaml:"heartbeat_interval"`
	CycleTime          string `yaml:"cycle_time"`
}

// SimulatorConfig конфигурация симулятора
func (s SimulatorSection) SimulatorConfig() (dacsim.Config, error) {
	var d durations
	cfg := dacsim.Config{
		ChannelCount:       s.ChannelCount,
		FirstChannelPort:   s.FirstChannelPort,
		ListenAddress:      s.ListenAddress,
		RebroadcastAddress: s.RebroadcastAddress,
		MinBufferSize:      s.MinBufferSize,
		SyncTimeout:        d.parse("simulator.sync_timeout", s.SyncTimeout, dacsim.DefaultSyncTimeout),
		HeartbeatInterval:  d.parse("simulator.heartbeat_interval", s.HeartbeatInterval, dacsim.DefaultHeartbeatInterval),
		CycleTime:          d.parse("simulator.cycle_time", s.CycleTime, dacsim.DefaultCycleTime),
	}
	if d.err != nil {
		return dacsim.Config{}, d.err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return dacsim.Config{}, fmt.Errorf("simulator: %w", err)
	}
	return cfg, nil
}

// GroupSection группа передатчиков менеджера
type GroupSection struct {
	Name         string `yaml:"name"`
	Transmitters []int  `yaml:"transmitters"`
}

// CommsSection менеджер связи
type CommsSection struct {
	ListenAddress       string         `yaml:"listen_address"`
	LocalID             string         `yaml:"local_id"`
	ClusterHosts        []string       `yaml:"cluster_hosts"`
	Groups              []GroupSection `yaml:"groups"`
	PoolSize            int            `yaml:"pool_size"`
	AcceptTimeout       string         `yaml:"accept_timeout"`
	RequestTimeout      string         `yaml:"request_timeout"`
	ClusterTimeout      string         `yaml:"cluster_timeout"`
	MaintenanceInterval string         `yaml:"maintenance_interval"`
}

// CommsConfig конфигурация менеджера связи
func (s CommsSection) CommsConfig() (comms.Config, error) {
	var d durations
	cfg := comms.Config{
		ListenAddress:       s.ListenAddress,
		LocalID:             s.LocalID,
		ClusterHosts:        s.ClusterHosts,
		PoolSize:            s.PoolSize,
		AcceptTimeout:       d.parse("comms.accept_timeout", s.AcceptTimeout, comms.DefaultAcceptTimeout),
		RequestTimeout:      d.parse("comms.request_timeout", s.RequestTimeout, comms.DefaultRequestTimeout),
		ClusterTimeout:      d.parse("comms.cluster_timeout", s.ClusterTimeout, comms.DefaultClusterTimeout),
		MaintenanceInterval: d.parse("comms.maintenance_interval", s.MaintenanceInterval, comms.DefaultMaintenanceInterval),
	}
	if d.err != nil {
		return comms.Config{}, d.err
	}
	for _, g := range s.Groups {
		cfg.Groups = append(cfg.Groups, comms.GroupConfig{Name: g.Name, Transmitters: g.Transmitters})
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return comms.Config{}, fmt.Errorf("comms: %w", err)
	}
	return cfg, nil
}

// PlaylistSection каталог плейлистов группы
type PlaylistSection struct {
	Directory string `yaml:"directory"`
	// Archive переносить отыгранные файлы сообщений в архив
	Archive bool `yaml:"archive"`
	// LockTimeout ожидание блокировки файла
	LockTimeout string `yaml:"lock_timeout"`
}

// PlaybackSection история воспроизведения; пустой path отключает историю
type PlaybackSection struct {
	Path      string `yaml:"path"`
	Retention string `yaml:"retention"`
}

// StoreConfig конфигурация хранилища истории
func (s PlaybackSection) StoreConfig() (playback.Config, error) {
	retention, err := ParseDurationField("playback.retention", s.Retention)
	if err != nil {
		return playback.Config{}, err
	}
	return playback.Config{Path: s.Path, Retention: retention}, nil
}

// Timeout время ожидания блокировки файла
func (s PlaylistSection) Timeout() (time.Duration, error) {
	return ParseDurationOrDefault("playlist.lock_timeout", s.LockTimeout, filelock.DefaultTimeout)
}
