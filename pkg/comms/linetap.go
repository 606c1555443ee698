package comms

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

const (
	lineTapQueueSize     = 64
	lineTapWriteDeadline = 10 * time.Second
	lineTapPingInterval  = 30 * time.Second
)

// LineTapServer websocket endpoint прослушки: клиент подписывается на
// группу (?group=NAME) и получает бинарными сообщениями каждую нагрузку,
// отправленную в DAC группы. Медленный клиент теряет нагрузки, передачу
// он не задерживает.
type LineTapServer struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]map[string]*tapSubscriber
	wg          sync.WaitGroup
}

type tapSubscriber struct {
	id    string
	group string
	conn  *websocket.Conn
	send  chan []byte
}

// NewLineTapServer создает сервер прослушки
func NewLineTapServer(logger *zap.Logger) *LineTapServer {
	return &LineTapServer{
		logger: logging.Component(logger, "linetap"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[string]map[string]*tapSubscriber),
	}
}

// ServeHTTP подключает клиента прослушки
func (s *LineTapServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		http.Error(w, "не указана группа", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Ошибка websocket рукопожатия", zap.Error(err))
		return
	}

	sub := &tapSubscriber{
		id:    uuid.NewString(),
		group: group,
		conn:  conn,
		send:  make(chan []byte, lineTapQueueSize),
	}
	s.subscribe(sub)
	s.logger.Info("Клиент прослушки подключен",
		zap.String("group", group), zap.String("id", sub.id), zap.Stringer("remote", conn.RemoteAddr()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(sub)
	}()

	// входящие сообщения не ожидаются, чтение нужно для обработки close и pong
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Клиент прослушки отключился с ошибкой", zap.Error(err))
			}
			break
		}
	}
	s.unsubscribe(sub)
	s.logger.Info("Клиент прослушки отключен", zap.String("group", group), zap.String("id", sub.id))
}

func (s *LineTapServer) subscribe(sub *tapSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := s.subscribers[sub.group]
	if group == nil {
		group = make(map[string]*tapSubscriber)
		s.subscribers[sub.group] = group
	}
	group[sub.id] = sub
	lineTapSubscribers.Inc()
}

// unsubscribe закрывает очередь подписчика под блокировкой, поэтому
// Publish никогда не пишет в закрытый канал
func (s *LineTapServer) unsubscribe(sub *tapSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := s.subscribers[sub.group]
	if _, ok := group[sub.id]; !ok {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(s.subscribers, sub.group)
	}
	close(sub.send)
	lineTapSubscribers.Dec()
}

func (s *LineTapServer) writeLoop(sub *tapSubscriber) {
	ticker := time.NewTicker(lineTapPingInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case payload, ok := <-sub.send:
			if !ok {
				_ = sub.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(lineTapWriteDeadline))
			if err := sub.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				s.logger.Debug("Ошибка записи клиенту прослушки", zap.String("id", sub.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(lineTapWriteDeadline)); err != nil {
				return
			}
		}
	}
}

// Publish рассылает нагрузку подписчикам группы и возвращает число
// клиентов, в очередь которых она попала
func (s *LineTapServer) Publish(group string, payload []byte) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.subscribers[group]
	if len(subs) == 0 {
		return 0
	}
	data := append([]byte(nil), payload...)
	queued := 0
	for _, sub := range subs {
		select {
		case sub.send <- data:
			queued++
		default:
			lineTapDroppedTotal.Inc()
		}
	}
	return queued
}

// Subscribers число клиентов группы
func (s *LineTapServer) Subscribers(group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[group])
}

// Close отключает всех клиентов и ждет завершения записи
func (s *LineTapServer) Close() {
	s.mu.RLock()
	var all []*tapSubscriber
	for _, group := range s.subscribers {
		for _, sub := range group {
			all = append(all, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range all {
		s.unsubscribe(sub)
	}
	s.wg.Wait()
}
