package comms

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

// ConfigLoader перечитывает конфигурацию менеджера
type ConfigLoader func() (Config, error)

// Manager менеджер связи: принимает соединения dactransmit, узлов
// кластера и управляющих клиентов, доставляет сообщения процессам,
// которые держат DAC, и реплицирует их на узлы кластера.
// Аудио состояния не хранит.
type Manager struct {
	logger  *zap.Logger
	router  *Router
	dac     *DacTransmitServer
	cluster *ClusterServer
	loader  ConfigLoader

	mu        sync.Mutex
	config    Config
	cancel    context.CancelFunc
	liveConns map[*Conn]struct{}
	wg        sync.WaitGroup
}

// ManagerOption опция менеджера
type ManagerOption func(*Manager)

// WithConfigLoader источник конфигурации для перечитывания по запросу кластера
func WithConfigLoader(loader ConfigLoader) ManagerOption {
	return func(m *Manager) {
		m.loader = loader
	}
}

// NewManager создает менеджер и регистрирует обработчики типов сообщений
func NewManager(config Config, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger = logging.Component(logger, "comms")
	m := &Manager{logger: logger, config: config, liveConns: make(map[*Conn]struct{})}
	for _, opt := range opts {
		opt(m)
	}

	m.router = NewRouter(config.routerConfig(), logger)
	m.dac = NewDacTransmitServer(config.Groups, m, logger)
	m.cluster = NewClusterServer(config.clusterConfig(), m, logger)

	handlers := map[string]Handler{
		MessageDacTransmitRegister: m.dac,
		MessageClusterHello:        m.cluster,
		MessagePlaylistUpdate:      HandlerFunc(m.handlePlaylistUpdate),
		MessageLiveBroadcastStart:  HandlerFunc(m.handleLiveControl),
	}
	for msgType, h := range handlers {
		if err := m.router.Register(msgType, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Router роутер соединений
func (m *Manager) Router() *Router { return m.router }

// DacTransmit реестр процессов dactransmit
func (m *Manager) DacTransmit() *DacTransmitServer { return m.dac }

// Cluster сервер кластера
func (m *Manager) Cluster() *ClusterServer { return m.cluster }

// Addr адрес порта управления
func (m *Manager) Addr() net.Addr { return m.router.Addr() }

// Start открывает порт управления и запускает обслуживание кластера
func (m *Manager) Start(ctx context.Context) error {
	if err := m.router.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.router.Serve(ctx); err != nil {
			m.logger.Error("Роутер остановлен с ошибкой", zap.Error(err))
		}
	}()
	m.cluster.Start(ctx)

	m.logger.Info("Менеджер связи запущен",
		zap.Stringer("address", m.router.Addr()),
		zap.Strings("groups", m.dac.ActiveGroups()))
	return nil
}

// Stop уведомляет кластер, останавливает процессы dactransmit и закрывает порт
func (m *Manager) Stop(ctx context.Context) error {
	m.cluster.Shutdown(ctx)
	m.dac.Shutdown()

	m.mu.Lock()
	cancel := m.cancel
	for c := range m.liveConns {
		_ = c.Close()
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := m.router.Close()
	m.wg.Wait()
	m.logger.Info("Менеджер связи остановлен")
	return err
}

// Reload перечитывает конфигурацию и просит узлы кластера сделать то же
func (m *Manager) Reload() error {
	if err := m.reload(); err != nil {
		return err
	}
	m.cluster.SendConfigCheck()
	return nil
}

func (m *Manager) reload() error {
	if m.loader == nil {
		return errors.New("источник конфигурации не задан")
	}
	config, err := m.loader()
	if err != nil {
		return err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}
	m.Reconfigure(config)
	return nil
}

// Reconfigure применяет новую конфигурацию групп и узлов
func (m *Manager) Reconfigure(config Config) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	m.dac.Reconfigure(config.Groups)
	m.cluster.Reconfigure(config.clusterConfig())
	m.logger.Info("Конфигурация применена", zap.Strings("groups", config.GroupNames()))
}

// ForwardLiveBroadcast доставляет сообщение прямого эфира процессам групп,
// подключенным к DAC на этом узле. Сообщения, пришедшие не из кластера,
// реплицируются на все узлы.
func (m *Manager) ForwardLiveBroadcast(env Envelope, fromCluster bool) {
	var msg LiveBroadcast
	if err := env.Decode(&msg); err != nil {
		m.logger.Error("Некорректное сообщение прямого эфира", zap.Error(err))
		return
	}

	for _, group := range msg.Groups {
		if m.dac.SendToDac(group, env) {
			forwardedMessagesTotal.WithLabelValues(env.Type, "dactransmit").Inc()
		}
	}
	if !fromCluster {
		if n := m.cluster.SendEnvelopeToAll(env); n > 0 {
			forwardedMessagesTotal.WithLabelValues(env.Type, "cluster").Add(float64(n))
		}
	}
}

// handlePlaylistUpdate одноразовое уведомление о новом плейлисте группы
func (m *Manager) handlePlaylistUpdate(conn *Conn, first Envelope) bool {
	var update PlaylistUpdate
	if err := first.Decode(&update); err != nil {
		m.logger.Error("Некорректное уведомление о плейлисте", zap.Error(err))
		return false
	}
	if m.dac.SendToDac(update.Group, first) {
		forwardedMessagesTotal.WithLabelValues(first.Type, "dactransmit").Inc()
	} else {
		m.logger.Debug("Плейлист для группы без локального dactransmit", zap.String("group", update.Group))
	}
	return false
}

// handleLiveControl управляющий клиент прямого эфира: после live.start
// соединение остается открытым для live.audio и live.stop
func (m *Manager) handleLiveControl(conn *Conn, first Envelope) bool {
	m.ForwardLiveBroadcast(first, false)

	m.mu.Lock()
	m.liveConns[conn] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.liveConns, conn)
			m.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			env, err := conn.Receive()
			if err != nil {
				if !errors.Is(err, io.EOF) && !conn.Closed() {
					m.logger.Warn("Ошибка чтения от клиента прямого эфира", zap.Error(err))
				}
				return
			}
			if !IsLiveBroadcast(env.Type) {
				m.logger.Error("Неожиданное сообщение от клиента прямого эфира, соединение закрыто",
					zap.String("type", env.Type))
				return
			}
			m.ForwardLiveBroadcast(env, false)
			if env.Type == MessageLiveBroadcastStop {
				return
			}
		}
	}()
	return true
}

// DacConnectedLocal реализует DacTransmitEvents
func (m *Manager) DacConnectedLocal(group string) {
	m.cluster.DacConnectedLocal(group)
	m.dac.StopIdle(group)
}

// DacDisconnectedLocal реализует DacTransmitEvents
func (m *Manager) DacDisconnectedLocal(group string) {
	m.cluster.DacDisconnectedLocal(group)
}

// IsConnectedRemote реализует DacTransmitEvents
func (m *Manager) IsConnectedRemote(group string) bool {
	return m.cluster.IsConnected(group)
}

// DacConnectedRemote реализует ClusterEvents: локальные процессы группы
// без DAC больше не нужны
func (m *Manager) DacConnectedRemote(group string) {
	m.logger.Info("Группа подключена к DAC на другом узле", zap.String("group", group))
	m.dac.StopIdle(group)
}

// DacDisconnectedRemote реализует ClusterEvents
func (m *Manager) DacDisconnectedRemote(group string) {
	m.logger.Info("Группа отключена от DAC на другом узле", zap.String("group", group))
	m.cluster.DacDisconnectedRemote(group)
}

// DacRequestedRemote реализует ClusterEvents: запрошенные группы
// освобождаются после текущего блока
func (m *Manager) DacRequestedRemote(groups []string) {
	m.dac.Release(groups)
}

// ReloadConfig реализует ClusterEvents
func (m *Manager) ReloadConfig() {
	if err := m.reload(); err != nil {
		m.logger.Warn("Конфигурация не перечитана по запросу кластера", zap.Error(err))
	}
}

// AllGroupsRunning реализует ClusterEvents: каждая группа конфигурации
// подключена к DAC на этом или другом узле
func (m *Manager) AllGroupsRunning() bool {
	m.mu.Lock()
	groups := m.config.GroupNames()
	m.mu.Unlock()

	for _, g := range groups {
		if !m.dac.IsConnectedToDac(g) && !m.cluster.IsConnected(g) {
			return false
		}
	}
	return true
}
