package comms

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClusterMember соединение с другим менеджером кластера
type ClusterMember struct {
	id     string
	conn   *Conn
	server *ClusterServer
	logger *zap.Logger

	mu           sync.Mutex
	state        *ClusterState
	lastReceived time.Time

	disconnectOnce sync.Once
	done           chan struct{}
}

func newClusterMember(server *ClusterServer, id string, conn *Conn) *ClusterMember {
	return &ClusterMember{
		id:           id,
		conn:         conn,
		server:       server,
		logger:       server.logger.With(zap.String("member", id)),
		lastReceived: server.now(),
		done:         make(chan struct{}),
	}
}

// ID идентификатор узла
func (m *ClusterMember) ID() string {
	return m.id
}

// Done закрывается после отключения
func (m *ClusterMember) Done() <-chan struct{} {
	return m.done
}

// State последнее состояние узла. ok=false до первого сообщения состояния.
func (m *ClusterMember) State() (ClusterState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ClusterState{}, false
	}
	return m.state.Clone(), true
}

// LastReceived время последнего сообщения от узла
func (m *ClusterMember) LastReceived() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReceived
}

// Connected открыто ли соединение
func (m *ClusterMember) Connected() bool {
	return !m.conn.Closed()
}

// RemoteAccepted узел принял соединение и прислал свое состояние
func (m *ClusterMember) RemoteAccepted() bool {
	m.mu.Lock()
	accepted := m.state != nil
	m.mu.Unlock()
	return accepted && m.Connected()
}

// IsConnected подключен ли узел к DAC группы
func (m *ClusterMember) IsConnected(group string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil && m.Connected() && m.state.Contains(group)
}

// IsRequested запросил ли узел группу для балансировки
func (m *ClusterMember) IsRequested(group string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil && m.Connected() && m.state.IsRequested(group)
}

// Send отправляет сообщение. Ошибка отправки разрывает соединение.
func (m *ClusterMember) Send(msgType string, payload any) bool {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		m.logger.Error("Ошибка кодирования сообщения узлу", zap.Error(err))
		return false
	}
	return m.SendEnvelope(env)
}

func (m *ClusterMember) SendEnvelope(env Envelope) bool {
	if !m.Connected() {
		m.logger.Error("Нет соединения с узлом кластера")
		m.Disconnect()
		return false
	}
	if err := m.conn.SendEnvelope(env); err != nil {
		m.logger.Error("Ошибка отправки узлу кластера", zap.String("type", env.Type), zap.Error(err))
		m.Disconnect()
		return false
	}
	return true
}

// Shutdown сообщает узлу об остановке. Узел подтверждает и закрывает соединение.
func (m *ClusterMember) Shutdown() {
	m.Send(MessageClusterShutdown, ClusterShutdown{})
}

// Disconnect закрывает соединение. Группы узла считаются отключенными.
func (m *ClusterMember) Disconnect() {
	m.disconnectOnce.Do(func() {
		_ = m.conn.Close()

		m.mu.Lock()
		var groups []string
		if m.state != nil {
			groups = append(groups, m.state.Connected...)
		}
		m.mu.Unlock()

		m.server.removeMember(m)
		for _, g := range groups {
			m.server.events.DacDisconnectedRemote(g)
		}
		close(m.done)
	})
}

func (m *ClusterMember) run() {
	defer m.Disconnect()

	for {
		env, err := m.conn.Receive()
		if err != nil {
			switch {
			case m.conn.Closed(), errors.Is(err, net.ErrClosed):
			case errors.Is(err, io.EOF):
				m.logger.Error("Потеряно соединение с узлом кластера")
			default:
				m.logger.Error("Ошибка чтения от узла кластера", zap.Error(err))
			}
			return
		}

		m.mu.Lock()
		m.lastReceived = m.server.now()
		m.mu.Unlock()

		if !m.handle(env) {
			return
		}
	}
}

// handle возвращает false, если соединение нужно закрыть
func (m *ClusterMember) handle(env Envelope) bool {
	switch {
	case env.Type == MessageClusterState:
		var st ClusterState
		if err := env.Decode(&st); err != nil {
			m.logger.Error("Некорректное состояние узла", zap.Error(err))
			return false
		}
		m.applyState(st)

	case env.Type == MessageClusterShutdown:
		var msg ClusterShutdown
		_ = env.Decode(&msg)
		if !msg.Acknowledged {
			m.logger.Info("Узел кластера останавливается")
			m.Send(MessageClusterShutdown, ClusterShutdown{Acknowledged: true})
		}
		return false

	case env.Type == MessageClusterConfigCheck:
		m.server.events.ReloadConfig()

	case IsLiveBroadcast(env.Type):
		m.server.events.ForwardLiveBroadcast(env, true)

	case env.Type == MessageClusterHeartbeat:
		var hb ClusterHeartbeat
		if err := env.Decode(&hb); err != nil || hb.Host != m.id {
			m.logger.Error("Heartbeat с чужим идентификатором, соединение закрыто",
				zap.String("expected", m.id), zap.String("received", hb.Host))
			return false
		}

	default:
		m.logger.Error("Неожиданное сообщение от узла кластера, соединение закрыто",
			zap.String("type", env.Type))
		return false
	}
	return true
}

// applyState сравнивает новое состояние с прежним и сообщает о разнице
func (m *ClusterMember) applyState(next ClusterState) {
	m.mu.Lock()
	prev := m.state
	m.state = &next
	m.mu.Unlock()

	m.logger.Info("Узел кластера подключен к DAC", zap.Int("groups", len(next.Connected)))

	events := m.server.events
	var requested []string
	for _, g := range next.Connected {
		if prev == nil || !prev.Contains(g) {
			events.DacConnectedRemote(g)
		}
	}
	if prev != nil {
		for _, g := range prev.Connected {
			if !next.Contains(g) {
				events.DacDisconnectedRemote(g)
			}
		}
	}
	for _, g := range next.Requested {
		if prev == nil || !prev.IsRequested(g) {
			requested = append(requested, g)
		}
	}
	if len(requested) > 0 {
		m.logger.Info("Узел кластера запросил группы для балансировки", zap.Strings("groups", requested))
		events.DacRequestedRemote(requested)
	}
}
