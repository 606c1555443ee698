package comms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ КЛАСТЕРА ===

const (
	hostA = "10.0.0.1:18100"
	hostB = "10.0.0.2:18100"
	hostC = "10.0.0.3:18100"
)

func newTestCluster(t *testing.T, local string, groups ...string) (*ClusterServer, *recordingEvents) {
	t.Helper()
	events := newRecordingEvents()
	s := NewClusterServer(ClusterConfig{
		LocalID: local,
		Hosts:   []string{hostA, hostB, hostC},
		Groups:  groups,
	}, events, nil)
	return s, events
}

// addTestMember регистрирует узел без горутины чтения
func addTestMember(t *testing.T, s *ClusterServer, id string, state *ClusterState) (*ClusterMember, *Conn) {
	t.Helper()
	local, remote := tcpPair(t)
	m := newClusterMember(s, id, local)
	m.state = state
	s.membersMu.Lock()
	s.members[id] = m
	s.membersMu.Unlock()
	return m, remote
}

func groupsState(groups ...string) *ClusterState {
	return &ClusterState{Connected: groups}
}

func TestClusterMember_ApplyState(t *testing.T) {
	s, events := newTestCluster(t, hostA)
	m, _ := addTestMember(t, s, hostB, nil)

	m.applyState(ClusterState{Connected: []string{"north", "south"}})
	m.applyState(ClusterState{Connected: []string{"south", "east"}, Requested: []string{"west"}})
	m.applyState(ClusterState{Connected: []string{"south", "east"}, Requested: []string{"west"}})

	got := events.snapshot()
	assert.Equal(t, []string{"north", "south", "east"}, got.connectedRemote)
	assert.Equal(t, []string{"north"}, got.disconnectedRemote)
	assert.Equal(t, [][]string{{"west"}}, got.requested, "повторный запрос не сообщается")

	assert.True(t, m.IsConnected("east"))
	assert.True(t, m.IsRequested("west"))
	assert.True(t, s.IsConnected("south"))
	assert.False(t, s.IsConnected("north"))
}

func TestClusterMember_Handle(t *testing.T) {
	tests := []struct {
		name        string
		description string
		msgType     string
		payload     any
		keep        bool
	}{
		{
			name:        "Heartbeat_своего_узла",
			description: "Heartbeat с идентификатором узла принимается",
			msgType:     MessageClusterHeartbeat,
			payload:     ClusterHeartbeat{Host: hostB},
			keep:        true,
		},
		{
			name:        "Heartbeat_чужого_узла",
			description: "Несовпадение идентификатора закрывает соединение",
			msgType:     MessageClusterHeartbeat,
			payload:     ClusterHeartbeat{Host: hostC},
			keep:        false,
		},
		{
			name:        "Проверка_конфигурации",
			description: "config_check вызывает перечитывание",
			msgType:     MessageClusterConfigCheck,
			keep:        true,
		},
		{
			name:        "Прямой_эфир",
			description: "Сообщения эфира пересылаются с пометкой кластера",
			msgType:     MessageLiveBroadcastAudio,
			payload:     LiveBroadcast{BroadcastID: "b1", Groups: []string{"north"}},
			keep:        true,
		},
		{
			name:        "Неизвестный_тип",
			description: "Неожиданное сообщение закрывает соединение",
			msgType:     MessagePlaylistUpdate,
			payload:     PlaylistUpdate{Group: "north"},
			keep:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест обработки сообщений узла: %s", tt.description)

			s, events := newTestCluster(t, hostA)
			m, _ := addTestMember(t, s, hostB, nil)

			env, err := NewEnvelope(tt.msgType, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.keep, m.handle(env))

			got := events.snapshot()
			switch tt.msgType {
			case MessageClusterConfigCheck:
				assert.Equal(t, 1, got.reloads)
			case MessageLiveBroadcastAudio:
				require.Len(t, got.live, 1)
				assert.True(t, got.live[0].fromCluster)
				assert.Equal(t, MessageLiveBroadcastAudio, got.live[0].env.Type)
			}
		})
	}
}

func TestClusterMember_ShutdownAcknowledged(t *testing.T) {
	s, _ := newTestCluster(t, hostA)
	m, remote := addTestMember(t, s, hostB, nil)

	env, err := NewEnvelope(MessageClusterShutdown, ClusterShutdown{})
	require.NoError(t, err)
	assert.False(t, m.handle(env), "после остановки соединение закрывается")

	ack, err := remote.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageClusterShutdown, ack.Type)
	var msg ClusterShutdown
	require.NoError(t, ack.Decode(&msg))
	assert.True(t, msg.Acknowledged)

	env, err = NewEnvelope(MessageClusterShutdown, ClusterShutdown{Acknowledged: true})
	require.NoError(t, err)
	assert.False(t, m.handle(env))

	_ = remote.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = remote.Receive()
	assert.True(t, isTimeout(err), "на подтверждение не отвечают")
}

func TestClusterMember_DisconnectReleasesGroups(t *testing.T) {
	s, events := newTestCluster(t, hostA)
	m, _ := addTestMember(t, s, hostB, groupsState("north", "south"))

	m.Disconnect()
	m.Disconnect()

	select {
	case <-m.Done():
	default:
		t.Fatal("Done не закрыт")
	}
	assert.Empty(t, s.Members())
	assert.Equal(t, []string{"north", "south"}, events.snapshot().disconnectedRemote)
}

func TestClusterServer_AddMemberTieBreak(t *testing.T) {
	tests := []struct {
		name        string
		description string
		local       string
		prevState   *ClusterState
		keepPrev    bool
	}{
		{
			name:        "Меньший_идентификатор_держит_старое",
			description: "Локальный идентификатор меньше и старое соединение живо",
			local:       hostA,
			keepPrev:    true,
		},
		{
			name:        "Больший_идентификатор_заменяет",
			description: "Узел еще не принял старое соединение, локальный идентификатор больше",
			local:       hostC,
			keepPrev:    false,
		},
		{
			name:        "Принятое_соединение_остается",
			description: "Узел уже прислал состояние по старому соединению",
			local:       hostC,
			prevState:   groupsState(),
			keepPrev:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест повторного соединения: %s", tt.description)

			s, _ := newTestCluster(t, tt.local)
			prev, _ := addTestMember(t, s, hostB, tt.prevState)

			conn, _ := tcpPair(t)
			next := newClusterMember(s, hostB, conn)
			added := s.addMember(next)

			current, ok := s.Member(hostB)
			require.True(t, ok)
			if tt.keepPrev {
				assert.False(t, added)
				assert.Same(t, prev, current)
				assert.True(t, conn.Closed(), "новое соединение закрыто")
				assert.True(t, prev.Connected())
			} else {
				assert.True(t, added)
				assert.Same(t, next, current)
				assert.False(t, prev.Connected(), "старое соединение закрыто")
				next.Disconnect()
			}
		})
	}
}

func TestClusterServer_HandleConnectionRejectsUnknownHost(t *testing.T) {
	s, _ := newTestCluster(t, hostA)
	conn, _ := tcpPair(t)

	env, err := NewEnvelope(MessageClusterHello, ClusterHello{HostID: "10.9.9.9:18100"})
	require.NoError(t, err)
	assert.False(t, s.HandleConnection(conn, env))

	env, err = NewEnvelope(MessageClusterHello, ClusterHello{})
	require.NoError(t, err)
	assert.False(t, s.HandleConnection(conn, env), "пустой идентификатор")
	assert.Empty(t, s.Members())
}

func TestClusterServer_LocalState(t *testing.T) {
	s, _ := newTestCluster(t, hostA, "north", "south")
	_, remote := addTestMember(t, s, hostB, nil)

	s.DacConnectedLocal("north")
	assert.Equal(t, []string{"north"}, s.State().Connected)

	env, err := remote.Receive()
	require.NoError(t, err)
	require.Equal(t, MessageClusterState, env.Type)
	var st ClusterState
	require.NoError(t, env.Decode(&st))
	assert.Equal(t, []string{"north"}, st.Connected, "состояние разослано узлам")

	s.DacDisconnectedLocal("north")
	assert.Empty(t, s.State().Connected)
}

// === ТЕСТЫ БАЛАНСИРОВКИ ===

func TestClusterServer_Balance(t *testing.T) {
	tests := []struct {
		name        string
		description string
		groups      []string
		local       []string
		members     map[string]*ClusterState
		locked      []string
		allRunning  bool
		want        []string
	}{
		{
			name:        "Запрос_у_самого_загруженного",
			description: "Пустой узел запрашивает среднюю долю у узла с избытком",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			members: map[string]*ClusterState{
				hostB: groupsState("g1", "g2", "g3", "g4"),
				hostC: groupsState("g5", "g6"),
			},
			allRunning: true,
			want:       []string{"g1", "g2"},
		},
		{
			name:        "Исключенная_группа_пропускается",
			description: "Группа с неудачной балансировкой не запрашивается",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			members: map[string]*ClusterState{
				hostB: groupsState("g1", "g2", "g3", "g4"),
				hostC: groupsState("g5", "g6"),
			},
			locked:     []string{"g1"},
			allRunning: true,
			want:       []string{"g2", "g3"},
		},
		{
			name:        "Доля_выполнена_но_узел_перегружен",
			description: "При выполненной доле запрашивается одна группа у узла с перевесом больше одной",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6", "g7", "g8"},
			local:       []string{"g1", "g2"},
			members: map[string]*ClusterState{
				hostB: groupsState("g5", "g6", "g7", "g8"),
				hostC: groupsState("g3", "g4"),
			},
			allRunning: true,
			want:       []string{"g5"},
		},
		{
			name:        "Равновесие",
			description: "Группы распределены поровну",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			local:       []string{"g1", "g2"},
			members: map[string]*ClusterState{
				hostB: groupsState("g3", "g4"),
				hostC: groupsState("g5", "g6"),
			},
			allRunning: true,
		},
		{
			name:        "Не_все_группы_работают",
			description: "Балансировка ждет запуска всех групп",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			members: map[string]*ClusterState{
				hostB: groupsState("g1", "g2", "g3", "g4"),
				hostC: groupsState("g5", "g6"),
			},
			allRunning: false,
		},
		{
			name:        "Состояние_узла_неизвестно",
			description: "Узел еще не прислал состояние",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			members: map[string]*ClusterState{
				hostB: groupsState("g1", "g2", "g3", "g4", "g5", "g6"),
				hostC: nil,
			},
			allRunning: true,
		},
		{
			name:        "Узел_сам_балансируется",
			description: "У другого узла есть незавершенный запрос",
			groups:      []string{"g1", "g2", "g3", "g4", "g5", "g6"},
			members: map[string]*ClusterState{
				hostB: groupsState("g1", "g2", "g3", "g4", "g5", "g6"),
				hostC: {Requested: []string{"g6"}},
			},
			allRunning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест балансировки: %s", tt.description)

			s, _ := newTestCluster(t, hostA, tt.groups...)
			for _, g := range tt.local {
				s.state.Add(g)
			}
			for id, st := range tt.members {
				addTestMember(t, s, id, st)
			}
			for _, g := range tt.locked {
				s.LockBalance(g)
			}

			s.Balance(tt.allRunning)
			assert.Equal(t, tt.want, s.State().Requested)
		})
	}
}

func TestClusterServer_BalanceRequestTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestCluster(t, hostA, "g1", "g2", "g3", "g4", "g5", "g6")
	s.now = func() time.Time { return now }
	addTestMember(t, s, hostB, groupsState("g1", "g2", "g3", "g4"))
	addTestMember(t, s, hostC, groupsState("g5", "g6"))

	s.Balance(true)
	require.Equal(t, []string{"g1", "g2"}, s.State().Requested)

	s.DacDisconnectedRemote("g1")
	now = now.Add(DefaultRequestTimeout + time.Second)

	s.Balance(true)
	assert.Equal(t, []string{"g2"}, s.State().Requested, "просроченный запрос снят")
	assert.True(t, s.unavailable["g1"], "группа исключена из балансировки")

	s.Balance(true)
	assert.Equal(t, []string{"g2"}, s.State().Requested, "новых запросов пока есть незавершенный")

	s.DacConnectedLocal("g2")
	state := s.State()
	assert.Empty(t, state.Requested)
	assert.Equal(t, []string{"g2"}, state.Connected)

	s.UnlockBalance("g1")
	assert.False(t, s.unavailable["g1"])
}

func TestClusterServer_Reconfigure(t *testing.T) {
	s, _ := newTestCluster(t, hostA, "g1", "g2")
	s.state.AddRequested("g2")
	s.LockBalance("g2")

	s.Reconfigure(ClusterConfig{LocalID: hostA, Hosts: []string{hostA, hostB}, Groups: []string{"g1"}})

	assert.Empty(t, s.State().Requested, "запрос удаленной группы снят")
	assert.False(t, s.unavailable["g2"])
	assert.False(t, s.isConfigured(hostC))
	assert.True(t, s.isConfigured(hostB))
	assert.False(t, s.isConfigured(hostA), "свой узел не член кластера")
}
