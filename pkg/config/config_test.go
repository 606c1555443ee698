package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/dac_transmit/pkg/comms"
	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/dacsim"
	"github.com/arzzra/dac_transmit/pkg/filelock"
)

const sampleConfig = `
log_level: DEBUG
http:
  address: "127.0.0.1:9100"
transmit:
  id: north-1
  group: north
  dac_address: 10.0.0.50
  data_port: 18000
  control_port: 18001
  transmitters: [1, 2]
  sync_timeout: 3s
  cycle_time: 25ms
  manager_address: "127.0.0.1:18100"
simulator:
  channel_count: 2
  first_channel_port: 19000
  min_buffer_size: 10
comms:
  listen_address: ":18100"
  local_id: "10.0.0.1:18100"
  cluster_hosts: ["10.0.0.1:18100", "10.0.0.2:18100"]
  request_timeout: 2s
  groups:
    - name: north
      transmitters: [1, 2]
    - name: south
      transmitters: [3]
playlist:
  directory: /var/lib/dac/north
  lock_timeout: 500ms
playback:
  path: /var/lib/dac/history.db
  retention: 72h
`

// === ТЕСТЫ ЗАГРУЗКИ ===

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dac.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "уровень приводится к нижнему регистру")
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Address)
	assert.Equal(t, "north", cfg.Transmit.Group)
	assert.Equal(t, []int{1, 2}, cfg.Transmit.Transmitters)
	assert.Len(t, cfg.Comms.Groups, 2)
	assert.Equal(t, "/var/lib/dac/north", cfg.Playlist.Directory)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name        string
		description string
		body        string
	}{
		{
			name:        "Неверный_YAML",
			description: "Файл не разбирается",
			body:        "transmit: [",
		},
		{
			name:        "Неизвестный_уровень",
			description: "Уровень логирования не поддерживается zap",
			body:        "log_level: verbose",
		},
		{
			name:        "Адрес_HTTP",
			description: "Адрес HTTP сервера без порта",
			body:        "http:\n  address: localhost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест ошибки конфигурации: %s", tt.description)

			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "отсутствующий файл")
}

func TestParse_DefaultLogLevel(t *testing.T) {
	cfg, err := Parse([]byte("transmit:\n  group: north\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

// === ТЕСТЫ СЕКЦИЙ ===

func TestTransmitSection_SessionConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	session, err := cfg.Transmit.SessionConfig()
	require.NoError(t, err)

	assert.Equal(t, "north-1", session.ID)
	assert.Equal(t, 3*time.Second, session.SyncTimeout)
	assert.Equal(t, 25*time.Millisecond, session.CycleTime)
	assert.Equal(t, dacsession.DefaultHeartbeatInterval, session.HeartbeatInterval)
	assert.Equal(t, dacsession.DefaultWatermarkPackets, session.WatermarkPackets)
	assert.Equal(t, "10.0.0.50:18000", session.DataAddr())
	assert.Equal(t, "10.0.0.50:18001", session.ControlAddr())

	client, err := cfg.Transmit.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18100", client.Address)
	assert.Equal(t, "north", client.Register.Group)
	assert.Equal(t, comms.DefaultReconnectInterval, client.ReconnectInterval)
}

func TestTransmitSection_Errors(t *testing.T) {
	valid := TransmitSection{
		Group:        "north",
		DacAddress:   "10.0.0.50",
		DataPort:     18000,
		ControlPort:  18001,
		Transmitters: []int{1},
	}

	tests := []struct {
		name        string
		description string
		modify      func(s *TransmitSection)
	}{
		{
			name:        "Нет_адреса",
			description: "Адрес DAC обязателен",
			modify:      func(s *TransmitSection) { s.DacAddress = "" },
		},
		{
			name:        "Передатчик_вне_диапазона",
			description: "Передатчики нумеруются 1..4",
			modify:      func(s *TransmitSection) { s.Transmitters = []int{5} },
		},
		{
			name:        "Неверная_длительность",
			description: "Длительность не разбирается",
			modify:      func(s *TransmitSection) { s.SyncTimeout = "пять секунд" },
		},
		{
			name:        "Отрицательная_длительность",
			description: "Отрицательный период отправки",
			modify:      func(s *TransmitSection) { s.CycleTime = "-20ms" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест ошибки секции transmit: %s", tt.description)

			s := valid
			s.Transmitters = append([]int(nil), valid.Transmitters...)
			tt.modify(&s)
			_, err := s.SessionConfig()
			assert.Error(t, err)
		})
	}

	_, err := valid.SessionConfig()
	assert.NoError(t, err, "исходная секция корректна")
}

func TestSimulatorSection(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	sim, err := cfg.Simulator.SimulatorConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, sim.ChannelCount)
	assert.Equal(t, 19000, sim.FirstChannelPort)
	assert.Equal(t, 10, sim.MinBufferSize)
	assert.Equal(t, dacsim.DefaultSyncTimeout, sim.SyncTimeout)
	assert.Equal(t, dacsim.DefaultListenAddress, sim.ListenAddress)

	_, err = SimulatorSection{ChannelCount: 9}.SimulatorConfig()
	assert.Error(t, err, "каналов больше, чем передатчиков")
}

func TestCommsSection(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	c, err := cfg.Comms.CommsConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"north", "south"}, c.GroupNames())
	assert.Equal(t, 2*time.Second, c.RequestTimeout)
	assert.Equal(t, comms.DefaultClusterTimeout, c.ClusterTimeout)
	assert.Equal(t, comms.DefaultPoolSize, c.PoolSize)

	broken := cfg.Comms
	broken.LocalID = "10.0.0.9:18100"
	_, err = broken.CommsConfig()
	assert.Error(t, err, "локальный узел вне списка кластера")
}

func TestPlaylistAndPlaybackSections(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	timeout, err := cfg.Playlist.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, timeout)

	timeout, err = PlaylistSection{}.Timeout()
	require.NoError(t, err)
	assert.Equal(t, filelock.DefaultTimeout, timeout)

	store, err := cfg.Playback.StoreConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dac/history.db", store.Path)
	assert.Equal(t, 72*time.Hour, store.Retention)
}

// === ТЕСТЫ FX ===

func TestProvide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dac.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	out, err := Provide(Path(path))
	require.NoError(t, err)
	assert.Equal(t, "warn", out.LogLevel)
	require.NotNil(t, out.Config)
	assert.Equal(t, "warn", out.Config.LogLevel)
}
