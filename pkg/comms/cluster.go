package comms

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

// ClusterEvents реакции менеджера на события кластера
type ClusterEvents interface {
	DacConnectedRemote(group string)
	DacDisconnectedRemote(group string)
	DacRequestedRemote(groups []string)
	ReloadConfig()
	ForwardLiveBroadcast(env Envelope, fromCluster bool)
	AllGroupsRunning() bool
}

// ClusterConfig параметры кластера. Идентификатор узла совпадает с
// адресом его порта управления.
type ClusterConfig struct {
	LocalID string
	Hosts   []string
	// Groups все группы передатчиков кластера, база для балансировки
	Groups []string

	// RequestTimeout ожидание подключения запрошенной группы
	RequestTimeout time.Duration
	// ClusterTimeout предельная пауза между сообщениями узла
	ClusterTimeout time.Duration
	// MaintenanceInterval период подключения, heartbeat и балансировки
	MaintenanceInterval time.Duration
	DialTimeout         time.Duration
}

const (
	DefaultRequestTimeout      = 10 * time.Second
	DefaultClusterTimeout      = 60 * time.Second
	DefaultMaintenanceInterval = 10 * time.Second
	DefaultDialTimeout         = 5 * time.Second
)

func (c *ClusterConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ClusterTimeout <= 0 {
		c.ClusterTimeout = DefaultClusterTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// ClusterServer репликация состояния между менеджерами для active/active
// резервирования: кто держит какие группы, запросы балансировки,
// пересылка прямого эфира.
type ClusterServer struct {
	logger *zap.Logger
	events ClusterEvents
	now    func() time.Time

	configMu   sync.RWMutex
	config     ClusterConfig
	configured map[string]bool

	membersMu sync.Mutex
	members   map[string]*ClusterMember

	// stateMu защищает state, requestTimeout и unavailable
	stateMu        sync.Mutex
	state          ClusterState
	requestTimeout map[string]time.Time
	unavailable    map[string]bool

	cron *cron.Cron
}

// NewClusterServer создает сервер кластера
func NewClusterServer(config ClusterConfig, events ClusterEvents, logger *zap.Logger) *ClusterServer {
	config.applyDefaults()
	s := &ClusterServer{
		logger:         logging.Component(logger, "cluster"),
		events:         events,
		now:            time.Now,
		members:        make(map[string]*ClusterMember),
		requestTimeout: make(map[string]time.Time),
		unavailable:    make(map[string]bool),
	}
	s.setConfig(config)
	if len(config.Hosts) == 0 {
		s.logger.Warn("Узлы кластера не заданы, работа без кластера")
	}
	return s
}

func (s *ClusterServer) setConfig(config ClusterConfig) {
	configured := make(map[string]bool, len(config.Hosts))
	for _, h := range config.Hosts {
		if h != config.LocalID {
			configured[h] = true
		}
	}
	s.configMu.Lock()
	s.config = config
	s.configured = configured
	s.configMu.Unlock()
}

func (s *ClusterServer) cfg() ClusterConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

func (s *ClusterServer) isConfigured(id string) bool {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.configured[id]
}

// LocalID идентификатор этого узла
func (s *ClusterServer) LocalID() string {
	return s.cfg().LocalID
}

// HandleConnection принимает соединение от другого узла
func (s *ClusterServer) HandleConnection(conn *Conn, first Envelope) bool {
	var hello ClusterHello
	if err := first.Decode(&hello); err != nil || hello.HostID == "" {
		s.logger.Warn("Некорректное приветствие узла кластера", zap.Error(err))
		return false
	}
	if !s.isConfigured(hello.HostID) {
		s.logger.Warn("Запрос от узла вне конфигурации кластера отклонен",
			zap.String("id", hello.HostID), zap.Stringer("remote", conn.RemoteAddr()))
		return false
	}

	s.logger.Info("Новое соединение от узла кластера", zap.String("id", hello.HostID))
	s.addMember(newClusterMember(s, hello.HostID, conn))
	return true
}

// addMember регистрирует узел. При повторном соединении с тем же узлом
// старое остается, если узел уже принял его или если локальный
// идентификатор меньше и старое соединение живо.
func (s *ClusterServer) addMember(m *ClusterMember) bool {
	local := s.LocalID()

	s.membersMu.Lock()
	prev := s.members[m.id]
	if prev != nil && (prev.RemoteAccepted() || (local < m.id && prev.Connected())) {
		s.membersMu.Unlock()
		s.logger.Info("Соединение с узлом уже есть, новое закрыто", zap.String("id", m.id))
		_ = m.conn.Close()
		return false
	}
	s.members[m.id] = m
	clusterMembers.Set(float64(len(s.members)))
	s.membersMu.Unlock()

	if prev != nil {
		s.logger.Info("Новое соединение с узлом, прежнее закрыто", zap.String("id", m.id))
		prev.Disconnect()
	}

	go m.run()

	s.stateMu.Lock()
	state := s.state.Clone()
	s.stateMu.Unlock()
	m.Send(MessageClusterState, state)
	return true
}

// removeMember удаляет узел, только если зарегистрирован именно m
func (s *ClusterServer) removeMember(m *ClusterMember) {
	s.membersMu.Lock()
	if s.members[m.id] == m {
		delete(s.members, m.id)
	}
	clusterMembers.Set(float64(len(s.members)))
	s.membersMu.Unlock()
}

func (s *ClusterServer) snapshot() []*ClusterMember {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	out := make([]*ClusterMember, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Members идентификаторы подключенных узлов
func (s *ClusterServer) Members() []string {
	members := s.snapshot()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.id
	}
	return ids
}

// Member узел по идентификатору
func (s *ClusterServer) Member(id string) (*ClusterMember, bool) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	m, ok := s.members[id]
	return m, ok
}

// Connect устанавливает соединения с узлами конфигурации. Живым узлам
// отправляется heartbeat, молчащие дольше ClusterTimeout отключаются,
// узлы вне конфигурации останавливаются.
func (s *ClusterServer) Connect(ctx context.Context) {
	config := s.cfg()
	threshold := s.now().Add(-config.ClusterTimeout)

	for _, host := range config.Hosts {
		if host == config.LocalID {
			continue
		}
		if m, ok := s.Member(host); ok {
			if m.LastReceived().Before(threshold) {
				s.logger.Error("Узел кластера молчит дольше порога, отключение",
					zap.String("id", host), zap.Duration("threshold", config.ClusterTimeout))
				m.Disconnect()
			} else {
				m.Send(MessageClusterHeartbeat, ClusterHeartbeat{Host: config.LocalID})
				continue
			}
		}

		s.logger.Info("Подключение к узлу кластера", zap.String("id", host))
		dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		conn, err := Dial(dialCtx, host)
		cancel()
		if err != nil {
			s.logger.Warn("Узел кластера недоступен", zap.String("id", host), zap.Error(err))
			continue
		}
		if err := conn.Send(MessageClusterHello, ClusterHello{HostID: config.LocalID}); err != nil {
			s.logger.Warn("Ошибка приветствия узла кластера", zap.String("id", host), zap.Error(err))
			_ = conn.Close()
			continue
		}
		s.addMember(newClusterMember(s, host, conn))
	}

	for _, m := range s.snapshot() {
		if !s.isConfigured(m.id) {
			s.logger.Info("Узел больше не входит в кластер, отключение", zap.String("id", m.id))
			m.Shutdown()
			m.Disconnect()
		}
	}
}

// IsConnected подключен ли к DAC группы какой-либо узел кластера
func (s *ClusterServer) IsConnected(group string) bool {
	for _, m := range s.snapshot() {
		if m.IsConnected(group) {
			return true
		}
	}
	return false
}

// IsRequested запрошена ли группа каким-либо узлом
func (s *ClusterServer) IsRequested(group string) bool {
	for _, m := range s.snapshot() {
		if m.IsRequested(group) {
			return true
		}
	}
	return false
}

// State копия локального состояния
func (s *ClusterServer) State() ClusterState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Clone()
}

// DacConnectedLocal локальный dactransmit подключился к DAC группы
func (s *ClusterServer) DacConnectedLocal(group string) {
	s.stateMu.Lock()
	s.state.Add(group)
	s.state.RemoveRequested(group)
	delete(s.requestTimeout, group)
	s.unlockBalanceLocked(group)
	state := s.state.Clone()
	s.stateMu.Unlock()

	s.broadcastState(state)
}

// DacDisconnectedLocal локальный dactransmit потерял DAC группы
func (s *ClusterServer) DacDisconnectedLocal(group string) {
	s.stateMu.Lock()
	s.state.Remove(group)
	s.unlockBalanceLocked(group)
	state := s.state.Clone()
	s.stateMu.Unlock()

	s.broadcastState(state)
}

// DacDisconnectedRemote узел освободил группу. Если группа была запрошена
// этим узлом, начинается ожидание RequestTimeout.
func (s *ClusterServer) DacDisconnectedRemote(group string) {
	timeout := s.cfg().RequestTimeout
	s.stateMu.Lock()
	if s.state.IsRequested(group) {
		s.requestTimeout[group] = s.now().Add(timeout)
	}
	s.unlockBalanceLocked(group)
	s.stateMu.Unlock()
}

// broadcastState вызывается без stateMu: ошибка отправки отключает узел,
// а отключение снова обращается к состоянию
func (s *ClusterServer) broadcastState(state ClusterState) {
	for _, m := range s.snapshot() {
		m.Send(MessageClusterState, state)
	}
}

// SendDataToAll отправляет сообщение всем узлам и возвращает число
// получивших. Узлы с ошибкой отправки отключаются.
func (s *ClusterServer) SendDataToAll(msgType string, payload any) int {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error("Ошибка кодирования сообщения кластеру", zap.Error(err))
		return 0
	}
	return s.SendEnvelopeToAll(env)
}

func (s *ClusterServer) SendEnvelopeToAll(env Envelope) int {
	recipients := 0
	for _, m := range s.snapshot() {
		if m.SendEnvelope(env) {
			recipients++
		}
	}
	return recipients
}

// SendConfigCheck просит узлы перечитать конфигурацию
func (s *ClusterServer) SendConfigCheck() int {
	return s.SendDataToAll(MessageClusterConfigCheck, nil)
}

// Reconfigure применяет новый состав групп и узлов
func (s *ClusterServer) Reconfigure(config ClusterConfig) {
	config.applyDefaults()
	s.setConfig(config)

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, g := range slices.Clone(s.state.Requested) {
		if !slices.Contains(config.Groups, g) {
			s.state.RemoveRequested(g)
			delete(s.requestTimeout, g)
		}
	}
	for g := range s.unavailable {
		if !slices.Contains(config.Groups, g) {
			delete(s.unavailable, g)
		}
	}
}

// LockBalance исключает группу из балансировки
func (s *ClusterServer) LockBalance(group string) {
	s.stateMu.Lock()
	s.lockBalanceLocked(group)
	s.stateMu.Unlock()
}

// UnlockBalance возвращает группу в балансировку
func (s *ClusterServer) UnlockBalance(group string) {
	s.stateMu.Lock()
	s.unlockBalanceLocked(group)
	s.stateMu.Unlock()
}

func (s *ClusterServer) lockBalanceLocked(group string) {
	s.logger.Info("Группа исключена из балансировки", zap.String("group", group))
	s.unavailable[group] = true
}

func (s *ClusterServer) unlockBalanceLocked(group string) {
	if s.unavailable[group] {
		delete(s.unavailable, group)
		s.logger.Info("Группа снова доступна для балансировки", zap.String("group", group))
	}
}

// Start запускает периодическое обслуживание кластера
func (s *ClusterServer) Start(ctx context.Context) {
	interval := s.cfg().MaintenanceInterval
	c := cron.New()
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.maintain(ctx) }))
	c.Start()
	s.cron = c
	go s.maintain(ctx)
	s.logger.Info("Обслуживание кластера запущено", zap.Duration("interval", interval))
}

func (s *ClusterServer) maintain(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.Connect(ctx)
	s.Balance(s.events.AllGroupsRunning())
}

// Shutdown сообщает узлам об остановке, ждет подтверждений до отмены ctx
// и закрывает оставшиеся соединения
func (s *ClusterServer) Shutdown(ctx context.Context) {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	members := s.snapshot()
	for _, m := range members {
		m.Shutdown()
	}
	for _, m := range members {
		select {
		case <-m.Done():
		case <-ctx.Done():
		}
		m.Disconnect()
	}
}
