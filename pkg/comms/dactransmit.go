package comms

import (
	"errors"
	"io"
	"net"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

// GroupConfig группа передатчиков, обслуживаемая одним dactransmit
type GroupConfig struct {
	Name         string
	Transmitters []int
}

// DacTransmitEvents реакции менеджера на события процессов dactransmit
type DacTransmitEvents interface {
	DacConnectedLocal(group string)
	DacDisconnectedLocal(group string)
	ForwardLiveBroadcast(env Envelope, fromCluster bool)
	IsConnectedRemote(group string) bool
}

// DacTransmitServer реестр подключенных процессов dactransmit по группам
type DacTransmitServer struct {
	logger *zap.Logger
	events DacTransmitEvents

	mu      sync.RWMutex
	groups  map[string]GroupConfig
	clients map[string][]*DacTransmitClient
}

// NewDacTransmitServer создает реестр для групп конфигурации
func NewDacTransmitServer(groups []GroupConfig, events DacTransmitEvents, logger *zap.Logger) *DacTransmitServer {
	s := &DacTransmitServer{
		logger:  logging.Component(logger, "dactransmit"),
		events:  events,
		clients: make(map[string][]*DacTransmitClient),
	}
	s.setGroups(groups)
	return s
}

func (s *DacTransmitServer) setGroups(groups []GroupConfig) {
	m := make(map[string]GroupConfig, len(groups))
	for _, g := range groups {
		m[g.Name] = g
	}
	s.mu.Lock()
	s.groups = m
	s.mu.Unlock()
}

// ActiveGroups имена групп конфигурации
func (s *DacTransmitServer) ActiveGroups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups))
	for name := range s.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *DacTransmitServer) group(name string) (GroupConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	return g, ok
}

func (s *DacTransmitServer) clientsOf(group string) []*DacTransmitClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.clients[group])
}

// HandleConnection принимает регистрацию dactransmit. Лишний процесс
// (группа вне конфигурации, DAC группы уже занят локально или другим
// узлом кластера) сразу получает команду остановки.
func (s *DacTransmitServer) HandleConnection(conn *Conn, first Envelope) bool {
	var reg DacTransmitRegister
	if err := first.Decode(&reg); err != nil || reg.Group == "" {
		s.logger.Warn("Некорректная регистрация dactransmit", zap.Error(err))
		return false
	}

	group, configured := s.group(reg.Group)
	keep := configured
	if !configured {
		s.logger.Info("dactransmit группы вне конфигурации будет остановлен", zap.String("group", reg.Group))
	}
	if keep && s.IsConnectedToDac(reg.Group) {
		s.logger.Info("dactransmit будет остановлен: DAC группы уже занят другим процессом",
			zap.String("group", reg.Group))
		keep = false
	}
	if keep && s.events.IsConnectedRemote(reg.Group) {
		s.logger.Info("dactransmit будет остановлен: DAC группы занят другим узлом кластера",
			zap.String("group", reg.Group))
		keep = false
	}

	client := newDacTransmitClient(s, reg, conn)
	s.mu.Lock()
	s.clients[reg.Group] = append(s.clients[reg.Group], client)
	s.mu.Unlock()

	s.logger.Info("dactransmit подключен", zap.String("group", reg.Group),
		zap.Ints("transmitters", reg.Transmitters))
	go client.run()

	if keep {
		client.SetTransmitters(group.Transmitters)
	} else {
		client.Shutdown(true)
	}
	return true
}

func (s *DacTransmitServer) removeClient(c *DacTransmitClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.clients[c.group]
	if i := slices.Index(list, c); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(s.clients, c.group)
	} else {
		s.clients[c.group] = list
	}
}

// SendToDac отправляет сообщение процессам группы. true, если хотя бы
// один процесс его получил.
func (s *DacTransmitServer) SendToDac(group string, env Envelope) bool {
	delivered := false
	for _, c := range s.clientsOf(group) {
		if c.Send(env) {
			delivered = true
		}
	}
	return delivered
}

// IsConnectedToDac держит ли локальный процесс DAC группы
func (s *DacTransmitServer) IsConnectedToDac(group string) bool {
	for _, c := range s.clientsOf(group) {
		if c.IsConnectedToDac() {
			return true
		}
	}
	return false
}

// IsConnectedToDacTransmit есть ли живой процесс группы
func (s *DacTransmitServer) IsConnectedToDacTransmit(group string) bool {
	for _, c := range s.clientsOf(group) {
		if !c.Disconnected() {
			return true
		}
	}
	return false
}

// StopIdle останавливает процессы группы, не подключенные к DAC
func (s *DacTransmitServer) StopIdle(group string) {
	for _, c := range s.clientsOf(group) {
		if !c.IsConnectedToDac() {
			s.logger.Info("dactransmit остановлен: к DAC группы подключен другой процесс",
				zap.String("group", group))
			c.Shutdown(true)
		}
	}
}

// Release мягко останавливает процессы групп, запрошенных другим узлом
func (s *DacTransmitServer) Release(groups []string) {
	for _, g := range groups {
		for _, c := range s.clientsOf(g) {
			c.Shutdown(false)
		}
	}
}

// Reconfigure применяет новый набор групп: процессы удаленных групп
// останавливаются, остальным отправляются передатчики
func (s *DacTransmitServer) Reconfigure(groups []GroupConfig) {
	s.setGroups(groups)

	s.mu.RLock()
	snapshot := make(map[string][]*DacTransmitClient, len(s.clients))
	for g, list := range s.clients {
		snapshot[g] = slices.Clone(list)
	}
	s.mu.RUnlock()

	for name, list := range snapshot {
		cfg, ok := s.group(name)
		for _, c := range list {
			if !ok {
				s.logger.Info("Группа удалена из конфигурации, dactransmit остановлен", zap.String("group", name))
				c.Shutdown(true)
				continue
			}
			c.SetTransmitters(cfg.Transmitters)
		}
	}
}

// Shutdown немедленно останавливает все процессы
func (s *DacTransmitServer) Shutdown() {
	s.mu.RLock()
	var all []*DacTransmitClient
	for _, list := range s.clients {
		all = append(all, list...)
	}
	s.mu.RUnlock()

	for _, c := range all {
		c.Shutdown(true)
	}
}

// DacTransmitClient соединение с одним процессом dactransmit
type DacTransmitClient struct {
	group  string
	conn   *Conn
	server *DacTransmitServer
	logger *zap.Logger

	mu           sync.Mutex
	status       *DacTransmitStatus
	transmitters []int
	disconnected bool
}

func newDacTransmitClient(server *DacTransmitServer, reg DacTransmitRegister, conn *Conn) *DacTransmitClient {
	tx := slices.Clone(reg.Transmitters)
	slices.Sort(tx)
	return &DacTransmitClient{
		group:        reg.Group,
		conn:         conn,
		server:       server,
		logger:       server.logger.With(zap.String("group", reg.Group)),
		transmitters: tx,
	}
}

func (c *DacTransmitClient) Group() string {
	return c.group
}

// IsConnectedToDac по последнему статусу процесса
func (c *DacTransmitClient) IsConnectedToDac() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected && c.status != nil && c.status.ConnectedToDac
}

func (c *DacTransmitClient) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Send отправляет сообщение процессу. Ошибка отправки разрывает соединение.
func (c *DacTransmitClient) Send(env Envelope) bool {
	if err := c.conn.SendEnvelope(env); err != nil {
		c.logger.Error("Ошибка отправки dactransmit", zap.String("type", env.Type), zap.Error(err))
		c.disconnect()
		return false
	}
	return true
}

func (c *DacTransmitClient) send(msgType string, payload any) bool {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		c.logger.Error("Ошибка кодирования сообщения dactransmit", zap.Error(err))
		return false
	}
	return c.Send(env)
}

// Shutdown просит процесс остановиться
func (c *DacTransmitClient) Shutdown(now bool) {
	c.send(MessageDacTransmitShutdown, DacTransmitShutdown{Now: now})
}

// SetTransmitters отправляет набор передатчиков, если он изменился
func (c *DacTransmitClient) SetTransmitters(transmitters []int) {
	tx := slices.Clone(transmitters)
	slices.Sort(tx)

	c.mu.Lock()
	same := slices.Equal(tx, c.transmitters)
	c.transmitters = tx
	c.mu.Unlock()

	if !same {
		c.send(MessageChangeTransmitters, ChangeTransmitters{Transmitters: tx})
	}
}

func (c *DacTransmitClient) run() {
	defer func() {
		c.disconnect()
		c.server.removeClient(c)
		c.logger.Info("dactransmit отключен")
	}()

	for {
		env, err := c.conn.Receive()
		if err != nil {
			if !c.conn.Closed() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Error("Ошибка чтения от dactransmit", zap.Error(err))
			}
			return
		}
		if !c.handle(env) {
			return
		}
	}
}

// handle возвращает false, если соединение нужно закрыть
func (c *DacTransmitClient) handle(env Envelope) bool {
	events := c.server.events
	switch {
	case env.Type == MessageDacTransmitStatus:
		var st DacTransmitStatus
		if err := env.Decode(&st); err != nil {
			c.logger.Error("Некорректный статус dactransmit", zap.Error(err))
			return false
		}
		c.mu.Lock()
		changed := c.status == nil || *c.status != st
		c.status = &st
		c.mu.Unlock()
		if !changed {
			return true
		}
		if st.ConnectedToDac {
			c.logger.Info("dactransmit подключился к DAC")
			events.DacConnectedLocal(c.group)
		} else {
			c.logger.Info("dactransmit не подключен к DAC")
			events.DacDisconnectedLocal(c.group)
		}

	case env.Type == MessageDacTransmitShutdown:
		return false

	case IsLiveBroadcast(env.Type):
		events.ForwardLiveBroadcast(env, false)

	default:
		c.logger.Error("Неожиданное сообщение от dactransmit, соединение закрыто",
			zap.String("type", env.Type))
		return false
	}
	return true
}

func (c *DacTransmitClient) disconnect() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	wasConnected := c.status != nil && c.status.ConnectedToDac
	c.disconnected = true
	c.mu.Unlock()

	_ = c.conn.Close()
	if wasConnected {
		c.server.events.DacDisconnectedLocal(c.group)
	}
}
