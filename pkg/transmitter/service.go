// Package transmitter связывает сессию передачи группы с внешним миром:
// командами менеджера связи, каталогом плейлистов и прослушкой линии.
package transmitter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/comms"
	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/playlist"
	"github.com/arzzra/dac_transmit/pkg/rtp"
	"github.com/arzzra/dac_transmit/pkg/tones"
)

const loadTimeout = 5 * time.Second

// Источники плейлиста для метрик
const (
	sourceStartup  = "startup"
	sourceObserver = "observer"
	sourceManager  = "manager"
)

// Session операции сессии передачи, которыми пользуется сервис
type Session interface {
	Start(ctx context.Context) error
	AssignPlaylist(units ...dacsession.AudioUnit) error
	Interrupt(unit dacsession.AudioUnit) error
	ChangeTransmitters(mask rtp.TransmitterMask) error
	Shutdown(immediate bool) error
	AddListener(l dacsession.Listener)
	Done() <-chan struct{}
}

// StatusReporter получатель состояния связи с DAC (comms.Client)
type StatusReporter interface {
	SendStatus(connected bool) error
}

// Config параметры сервиса
type Config struct {
	Group string
	// PlaylistDir каталог плейлистов группы; пустой отключает наблюдение
	PlaylistDir string
	// Archive переносить замененный плейлист в архив
	Archive bool
}

// Service процесс передачи одной группы
type Service struct {
	config  Config
	session Session
	cache   *dacsession.MessageCache
	static  *tones.StaticTones
	logger  *zap.Logger
	now     func() time.Time

	archiver *playlist.Archiver
	observer *playlist.Observer

	mu        sync.Mutex
	reporter  StatusReporter
	connected bool
	current   string
	live      map[string]*dacsession.LiveUnit

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option опция сервиса
type Option func(*Service)

// WithArchiver включает архив замененных плейлистов
func WithArchiver(a *playlist.Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithReporter задает получателя статуса связи с DAC
func WithReporter(r StatusReporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

// New создает сервис поверх сессии
func New(config Config, session Session, cache *dacsession.MessageCache, static *tones.StaticTones, logger *zap.Logger, opts ...Option) (*Service, error) {
	if session == nil || cache == nil || static == nil {
		return nil, errors.New("не заданы сессия, кэш или статические тоны")
	}
	if config.Group == "" {
		return nil, errors.New("не задана группа")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:  config,
		session: session,
		cache:   cache,
		static:  static,
		now:     time.Now,
		live:    make(map[string]*dacsession.LiveUnit),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(logger, "transmitter").With(zap.String("group", config.Group))

	if config.PlaylistDir != "" {
		s.observer = playlist.NewObserver(config.PlaylistDir, s.handleObserved, s.logger)
	}
	return s, nil
}

// SetReporter задает получателя статуса после создания сервиса.
// Нужен, когда получатель сам зависит от HandleEnvelope.
func (s *Service) SetReporter(r StatusReporter) {
	s.mu.Lock()
	s.reporter = r
	connected := s.connected
	s.mu.Unlock()
	if connected {
		s.report(r, true)
	}
}

// Start запускает сессию, загружает действующий плейлист каталога
// и начинает наблюдение за каталогом
func (s *Service) Start(ctx context.Context) error {
	s.session.AddListener(s.onEvent)
	// остановкой сессии управляет Stop, а не контекст запуска
	if err := s.session.Start(context.Background()); err != nil {
		return fmt.Errorf("ошибка запуска сессии: %w", err)
	}

	if s.config.PlaylistDir != "" {
		s.loadStartup(ctx)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.observer.Run(s.ctx); err != nil {
				s.logger.Error("Наблюдение за каталогом остановлено", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Сервис передачи запущен", zap.String("playlist_dir", s.config.PlaylistDir))
	return nil
}

// loadStartup загружает плейлист с наивысшим приоритетом
func (s *Service) loadStartup(ctx context.Context) {
	infos, err := playlist.Scan(s.config.PlaylistDir, s.now())
	if err != nil {
		s.logger.Warn("Каталог плейлистов не прочитан", zap.Error(err))
		return
	}
	for _, info := range infos {
		if err := s.loadPlaylist(ctx, info.Path, sourceStartup); err == nil {
			return
		}
	}
	s.logger.Info("Нет действующих плейлистов, ожидание")
}

// Done закрывается после завершения сессии
func (s *Service) Done() <-chan struct{} {
	return s.session.Done()
}

// Stop останавливает наблюдение, эфиры и сессию
func (s *Service) Stop(immediate bool) error {
	s.mu.Lock()
	live := s.live
	s.live = make(map[string]*dacsession.LiveUnit)
	s.mu.Unlock()
	for _, u := range live {
		_ = u.Close()
	}
	liveBroadcasts.Set(0)

	err := s.session.Shutdown(immediate)
	s.cancel()
	s.wg.Wait()
	return err
}

// LoadPlaylist загружает плейлист и передает его блоки сессии.
// Плейлист с interrupt: true ставится вне очереди.
func (s *Service) LoadPlaylist(ctx context.Context, path string) error {
	return s.loadPlaylist(ctx, path, sourceManager)
}

func (s *Service) loadPlaylist(ctx context.Context, path, source string) error {
	pl, err := playlist.Load(path)
	if err != nil {
		playlistsLoadedTotal.WithLabelValues(source, "invalid").Inc()
		s.logger.Error("Плейлист не загружен", zap.String("path", path), zap.Error(err))
		return err
	}

	units := pl.Units(s.cache, s.static)
	if pl.Interrupt {
		for _, u := range units {
			if err = s.session.Interrupt(u); err != nil {
				break
			}
		}
	} else {
		err = s.session.AssignPlaylist(units...)
	}
	if err != nil {
		playlistsLoadedTotal.WithLabelValues(source, "rejected").Inc()
		s.logger.Error("Сессия не приняла плейлист", zap.String("path", path), zap.Error(err))
		return err
	}
	playlistsLoadedTotal.WithLabelValues(source, "ok").Inc()
	s.logger.Info("Плейлист загружен",
		zap.String("path", path),
		zap.Int("messages", len(units)),
		zap.Bool("interrupt", pl.Interrupt))

	if pl.Interrupt {
		return nil
	}
	s.mu.Lock()
	prev := s.current
	s.current = path
	s.mu.Unlock()
	if s.config.Archive && s.archiver != nil && prev != "" && prev != path {
		if _, err := s.archiver.Archive(ctx, prev); err != nil {
			s.logger.Warn("Замененный плейлист не перенесен в архив", zap.String("path", prev), zap.Error(err))
		}
	}
	return nil
}

// Current путь последнего загруженного плейлиста
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) handleObserved(info playlist.Info) {
	ctx, cancel := context.WithTimeout(s.ctx, loadTimeout)
	defer cancel()
	_ = s.loadPlaylist(ctx, info.Path, sourceObserver)
}

// HandleEnvelope обработчик команд менеджера связи
func (s *Service) HandleEnvelope(env comms.Envelope) {
	commandsTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case comms.MessagePlaylistUpdate:
		var msg comms.PlaylistUpdate
		if err := env.Decode(&msg); err != nil {
			s.logger.Error("Некорректное уведомление о плейлисте", zap.Error(err))
			return
		}
		if msg.Group != s.config.Group {
			s.logger.Warn("Уведомление для другой группы", zap.String("to", msg.Group))
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, loadTimeout)
		defer cancel()
		_ = s.LoadPlaylist(ctx, msg.Path)

	case comms.MessageChangeTransmitters:
		var msg comms.ChangeTransmitters
		if err := env.Decode(&msg); err != nil {
			s.logger.Error("Некорректный набор передатчиков", zap.Error(err))
			return
		}
		mask, err := rtp.NewTransmitterMask(msg.Transmitters...)
		if err == nil {
			err = s.session.ChangeTransmitters(mask)
		}
		if err != nil {
			s.logger.Error("Передатчики не изменены", zap.Ints("transmitters", msg.Transmitters), zap.Error(err))
		}

	case comms.MessageDacTransmitShutdown:
		var msg comms.DacTransmitShutdown
		if err := env.Decode(&msg); err != nil {
			s.logger.Error("Некорректный запрос остановки", zap.Error(err))
			return
		}
		s.logger.Info("Остановка по запросу менеджера", zap.Bool("now", msg.Now))
		if err := s.session.Shutdown(msg.Now); err != nil {
			s.logger.Error("Ошибка остановки сессии", zap.Error(err))
		}

	case comms.MessageLiveBroadcastStart, comms.MessageLiveBroadcastAudio, comms.MessageLiveBroadcastStop:
		var msg comms.LiveBroadcast
		if err := env.Decode(&msg); err != nil {
			s.logger.Error("Некорректное сообщение прямого эфира", zap.Error(err))
			return
		}
		if !slices.Contains(msg.Groups, s.config.Group) {
			return
		}
		s.handleLive(env.Type, msg)

	default:
		s.logger.Warn("Неизвестная команда менеджера", zap.String("type", env.Type))
	}
}

func (s *Service) handleLive(msgType string, msg comms.LiveBroadcast) {
	s.mu.Lock()
	unit, exists := s.live[msg.BroadcastID]
	switch msgType {
	case comms.MessageLiveBroadcastStart:
		if !exists {
			unit = dacsession.NewLiveUnit(msg.BroadcastID)
			s.live[msg.BroadcastID] = unit
		}
	case comms.MessageLiveBroadcastStop:
		delete(s.live, msg.BroadcastID)
	}
	count := len(s.live)
	s.mu.Unlock()
	liveBroadcasts.Set(float64(count))

	switch msgType {
	case comms.MessageLiveBroadcastStart:
		if exists {
			return
		}
		s.logger.Info("Начало прямого эфира", zap.String("broadcast_id", msg.BroadcastID))
		if err := s.session.Interrupt(unit); err != nil {
			s.logger.Error("Сессия не приняла прямой эфир", zap.Error(err))
		}
		if len(msg.Audio) > 0 {
			_, _ = unit.Write(msg.Audio)
		}

	case comms.MessageLiveBroadcastAudio:
		if !exists {
			s.logger.Debug("Аудио неизвестного эфира", zap.String("broadcast_id", msg.BroadcastID))
			return
		}
		if _, err := unit.Write(msg.Audio); err != nil {
			s.logger.Warn("Аудио эфира не принято", zap.Error(err))
		}

	case comms.MessageLiveBroadcastStop:
		if exists {
			_ = unit.Close()
			s.logger.Info("Конец прямого эфира", zap.String("broadcast_id", msg.BroadcastID))
		}
	}
}

// LiveBroadcasts число идущих эфиров
func (s *Service) LiveBroadcasts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// onEvent переводит события сессии в статус для менеджера
func (s *Service) onEvent(ev dacsession.Event) {
	var connected bool
	switch {
	case ev.Type == dacsession.EventStatusReceived:
		connected = true
	case ev.Type == dacsession.EventLostSync:
		connected = false
	case ev.Type == dacsession.EventStateChanged && ev.To == dacsession.StateTerminated:
		connected = false
	default:
		return
	}

	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	reporter := s.reporter
	s.mu.Unlock()
	if changed && reporter != nil {
		s.report(reporter, connected)
	}
}

func (s *Service) report(r StatusReporter, connected bool) {
	if err := r.SendStatus(connected); err != nil && !errors.Is(err, comms.ErrNotConnected) {
		s.logger.Warn("Статус не отправлен менеджеру", zap.Error(err))
	}
}

// Connected есть ли связь с DAC по последним событиям сессии
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// TapObserver публикует текущую нагрузку каждого отправленного кадра
// подписчикам прослушки группы
func TapObserver(tap *comms.LineTapServer, group string) func(*rtp.Packet) {
	return func(p *rtp.Packet) {
		tap.Publish(group, p.CurrentPayload)
	}
}
