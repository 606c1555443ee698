package comms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ МЕНЕДЖЕРА ===

func testManagerConfig(listen string, hosts ...string) Config {
	cfg := DefaultConfig()
	cfg.ListenAddress = listen
	cfg.AcceptTimeout = 2 * time.Second
	cfg.MaintenanceInterval = time.Hour
	if len(hosts) > 0 {
		cfg.LocalID = listen
		cfg.ClusterHosts = hosts
	}
	cfg.Groups = []GroupConfig{{Name: "north", Transmitters: []int{1, 2}}}
	return cfg
}

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

// runClient запускает клиента dactransmit, сообщения менеджера попадают в канал
func runClient(t *testing.T, address, group string, transmitters ...int) (*Client, <-chan Envelope) {
	t.Helper()
	inbox := make(chan Envelope, 32)
	client := NewClient(ClientConfig{
		Address:           address,
		Register:          DacTransmitRegister{Group: group, Transmitters: transmitters},
		ReconnectInterval: 50 * time.Millisecond,
	}, func(env Envelope) {
		select {
		case inbox <- env:
		default:
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return client, inbox
}

func waitFor(t *testing.T, inbox <-chan Envelope, msgType string) Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-inbox:
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("сообщение %s не получено", msgType)
			return Envelope{}
		}
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		description string
		mutate      func(c *Config)
	}{
		{
			name:        "Некорректный_адрес",
			description: "Адрес управления без порта",
			mutate:      func(c *Config) { c.ListenAddress = "localhost" },
		},
		{
			name:        "Узел_вне_кластера",
			description: "Локальный узел отсутствует в списке узлов",
			mutate: func(c *Config) {
				c.LocalID = hostA
				c.ClusterHosts = []string{hostB, hostC}
			},
		},
		{
			name:        "Группа_дважды",
			description: "Имена групп уникальны",
			mutate: func(c *Config) {
				c.Groups = append(c.Groups, GroupConfig{Name: "north"})
			},
		},
		{
			name:        "Неверный_передатчик",
			description: "Номер передатчика вне 1..4",
			mutate: func(c *Config) {
				c.Groups = []GroupConfig{{Name: "north", Transmitters: []int{5}}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест конфигурации менеджера: %s", tt.description)
			cfg := testManagerConfig("127.0.0.1:0")
			tt.mutate(&cfg)
			_, err := NewManager(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestManager_PlaylistUpdate(t *testing.T) {
	m := startManager(t, testManagerConfig("127.0.0.1:0"))
	addr := m.Addr().String()

	client, inbox := runClient(t, addr, "north", 1, 2)
	require.Eventually(t, client.Connected, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return m.DacTransmit().IsConnectedToDacTransmit("north") },
		3*time.Second, 10*time.Millisecond)

	conn, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Send(MessagePlaylistUpdate, PlaylistUpdate{Group: "north", Path: "/srv/north.yaml"}))

	env := waitFor(t, inbox, MessagePlaylistUpdate)
	var update PlaylistUpdate
	require.NoError(t, env.Decode(&update))
	assert.Equal(t, "/srv/north.yaml", update.Path)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Receive()
	assert.Error(t, err, "уведомление одноразовое, соединение закрыто")
}

func TestManager_LocalDacStatus(t *testing.T) {
	m := startManager(t, testManagerConfig("127.0.0.1:0"))

	client, _ := runClient(t, m.Addr().String(), "north", 1, 2)
	require.Eventually(t, client.Connected, 3*time.Second, 10*time.Millisecond)
	assert.False(t, m.AllGroupsRunning())

	require.NoError(t, client.SendStatus(true))
	require.Eventually(t, func() bool { return m.Cluster().State().Contains("north") },
		3*time.Second, 10*time.Millisecond)
	assert.True(t, m.AllGroupsRunning())

	require.NoError(t, client.SendStatus(false))
	require.Eventually(t, func() bool {
		st := m.Cluster().State()
		return len(st.Connected) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, m.AllGroupsRunning())
}

func TestManager_ClusterReplication(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)
	hosts := []string{addrA, addrB}

	// B стартует первым: его попытка подключиться к A отклоняется,
	// соединение кластера устанавливает A
	b := startManager(t, testManagerConfig(addrB, hosts...))
	time.Sleep(100 * time.Millisecond)
	a := startManager(t, testManagerConfig(addrA, hosts...))

	require.Eventually(t, func() bool {
		return len(a.Cluster().Members()) == 1 && len(b.Cluster().Members()) == 1
	}, 5*time.Second, 20*time.Millisecond, "кластер не собран")

	clientA, inboxA := runClient(t, addrA, "north", 1, 2)
	_ = clientA.SendStatus(true)
	require.Eventually(t, func() bool { return b.Cluster().IsConnected("north") },
		5*time.Second, 20*time.Millisecond, "состояние A не дошло до B")
	assert.True(t, b.AllGroupsRunning(), "группа работает на другом узле")

	// второй процесс той же группы на B лишний
	_, inboxB := runClient(t, addrB, "north", 1, 2)
	env := waitFor(t, inboxB, MessageDacTransmitShutdown)
	var shutdown DacTransmitShutdown
	require.NoError(t, env.Decode(&shutdown))
	assert.True(t, shutdown.Now)

	// прямой эфир через B доходит до процесса на A
	live, err := Dial(context.Background(), addrB)
	require.NoError(t, err)
	defer live.Close()
	require.NoError(t, live.Send(MessageLiveBroadcastStart, LiveBroadcast{BroadcastID: "b1", Groups: []string{"north"}}))
	require.NoError(t, live.Send(MessageLiveBroadcastAudio, LiveBroadcast{BroadcastID: "b1", Groups: []string{"north"}, Audio: []byte{1, 2, 3}}))

	start := waitFor(t, inboxA, MessageLiveBroadcastStart)
	var msg LiveBroadcast
	require.NoError(t, start.Decode(&msg))
	assert.Equal(t, "b1", msg.BroadcastID)

	audio := waitFor(t, inboxA, MessageLiveBroadcastAudio)
	require.NoError(t, audio.Decode(&msg))
	assert.Equal(t, []byte{1, 2, 3}, msg.Audio)
}
