package dacsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/playback"
	"github.com/arzzra/dac_transmit/pkg/rtp"
)

const recordTimeout = time.Second

// Option опция сессии
type Option func(*Session)

// WithLogger задает логгер сессии
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithRecorder задает получателя истории воспроизведения
func WithRecorder(recorder playback.Recorder) Option {
	return func(s *Session) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithPacketObserver вызывается для каждого успешно отправленного кадра
// из горутины отправки
func WithPacketObserver(fn func(*rtp.Packet)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// playing воспроизводимый блок
type playing struct {
	unit      AudioUnit
	started   time.Time
	interrupt bool
	restarted bool
}

// Session сессия передачи аудио в один DAC.
//
// Горутина отправки каждые CycleTime берет следующие PayloadSize байт
// текущего блока, строит кадр и отправляет его целиком. Управляющая
// горутина держит синхронизацию, горутина статусов разбирает ответы DAC
// и подстраивает период отправки под заполнение буфера.
type Session struct {
	id     string
	config Config
	logger *zap.Logger

	data     rtp.PacketSender
	control  *ControlLink
	recorder playback.Recorder
	observer func(*rtp.Packet)

	machine *fsm.FSM
	fsmMu   sync.Mutex

	mu             sync.Mutex
	playlist       []AudioUnit
	interrupts     []AudioUnit
	transmitters   rtp.TransmitterMask
	lastStatus     *DacStatus
	lastStatusAt   time.Time
	synced         bool
	cycle          time.Duration
	restartPending bool
	started        bool

	// принадлежат горутине отправки
	current *playing
	last    *rtp.Packet

	listenersMu sync.RWMutex
	listeners   []Listener

	warnLimiter *rate.Limiter

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession создает сессию. data принимает аудио кадры,
// control подключен к управляющему порту DAC.
func NewSession(config Config, data rtp.PacketSender, control rtp.Transport, opts ...Option) (*Session, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, newSessionError(ErrorCodeInvalidConfig, config.ID, "некорректная конфигурация", err)
	}
	if data == nil || control == nil {
		return nil, newSessionError(ErrorCodeInvalidConfig, config.ID, "не задан транспорт", nil)
	}
	mask, _ := config.TransmitterMask()
	if config.ID == "" {
		config.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           config.ID,
		config:       config,
		data:         data,
		recorder:     playback.NopRecorder{},
		transmitters: mask,
		cycle:        config.InitialCycleTime,
		warnLimiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = logging.Component(s.logger, "session").With(
		zap.String("session_id", s.id),
		zap.String("group", config.Group),
	)
	s.control = NewControlLink(control, s.logger)
	s.machine = newStateMachine(s.onTransition)
	return s, nil
}

// ID идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Group имя группы передатчиков
func (s *Session) Group() string {
	return s.config.Group
}

// State текущее состояние
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Transmitters текущая адресация кадров
func (s *Session) Transmitters() rtp.TransmitterMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmitters
}

// LastStatus последний статус DAC и признак синхронизации
func (s *Session) LastStatus() (*DacStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus, s.synced
}

// AddListener подписывает получателя событий
func (s *Session) AddListener(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Done закрывается после остановки всех горутин сессии
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait ждет завершения сессии
func (s *Session) Wait() {
	<-s.done
}

// Start синхронизируется с DAC и запускает горутины сессии.
// Отмена ctx равносильна немедленной остановке.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return newSessionError(ErrorCodeInvalidState, s.id, "сессия уже запущена", nil)
	}
	if state := s.State(); state != StateIdle {
		s.mu.Unlock()
		return newSessionError(ErrorCodeInvalidState, s.id, "запуск в состоянии "+state.String(), nil)
	}
	s.started = true
	s.synced = true
	s.lastStatusAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Запуск сессии передачи",
		zap.Stringer("transmitters", s.Transmitters()),
		zap.Duration("cycle", s.config.InitialCycleTime))

	if err := s.control.Synchronize(); err != nil {
		s.reportSendFailure("Ошибка начальной синхронизации", err)
	}

	s.wg.Add(4)
	go s.pump(s.ctx)
	go s.controlLoop(s.ctx)
	go s.statusLoop(s.ctx)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			_ = s.Shutdown(true)
		case <-s.ctx.Done():
		}
	}()

	go func() {
		s.wg.Wait()
		s.release()
		s.logger.Info("Сессия передачи завершена")
		s.doneOnce.Do(func() { close(s.done) })
	}()
	return nil
}

// AssignPlaylist добавляет блоки в плейлист. В состоянии idle запускает передачу.
func (s *Session) AssignPlaylist(units ...AudioUnit) error {
	if len(units) == 0 {
		return newSessionError(ErrorCodeInvalidConfig, s.id, "пустой плейлист", nil)
	}
	return s.enqueue(units, false)
}

// Interrupt ставит блок вне очереди. Текущий блок плейлиста прерывается,
// перематывается и будет воспроизведен заново после прерывания.
func (s *Session) Interrupt(unit AudioUnit) error {
	if unit == nil {
		return newSessionError(ErrorCodeInvalidConfig, s.id, "пустой блок прерывания", nil)
	}
	return s.enqueue([]AudioUnit{unit}, true)
}

func (s *Session) enqueue(units []AudioUnit, interrupt bool) error {
	state := s.State()
	if state == StateShuttingDown || state == StateTerminated {
		return newSessionError(ErrorCodeShutdown, s.id, "сессия завершается", nil)
	}

	s.mu.Lock()
	if interrupt {
		s.interrupts = append(s.interrupts, units...)
	} else {
		s.playlist = append(s.playlist, units...)
	}
	queued := len(s.playlist) + len(s.interrupts)
	s.mu.Unlock()

	s.logger.Debug("Блоки добавлены в очередь",
		zap.Int("count", len(units)),
		zap.Bool("interrupt", interrupt),
		zap.Int("queued", queued))

	if state == StateIdle {
		return s.fire(eventAssign)
	}
	return nil
}

// Pause приостанавливает передачу, позиция в блоке сохраняется
func (s *Session) Pause() error {
	return s.fire(eventPause)
}

// Resume возобновляет передачу. Без синхронизации сессия сразу
// переходит в degraded.
func (s *Session) Resume() error {
	if err := s.fire(eventResume); err != nil {
		return err
	}
	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()
	if !synced {
		return s.fire(eventLoseSync)
	}
	return nil
}

// ChangeTransmitters меняет адресацию следующих кадров
func (s *Session) ChangeTransmitters(mask rtp.TransmitterMask) error {
	if mask.Empty() {
		return newSessionError(ErrorCodeInvalidConfig, s.id, "не выбран ни один передатчик", rtp.ErrNoTransmitters)
	}
	s.mu.Lock()
	prev := s.transmitters
	s.transmitters = mask & 0x0F
	s.mu.Unlock()

	s.logger.Info("Адресация передатчиков изменена",
		zap.Stringer("from", prev), zap.Stringer("to", mask))
	return nil
}

// Shutdown останавливает сессию. При immediate=false текущий блок
// доигрывается, очередь отбрасывается. immediate=true прекращает
// передачу после текущего кадра. Повторный вызов ничего не делает.
func (s *Session) Shutdown(immediate bool) error {
	state := s.State()
	if state == StateTerminated {
		return nil
	}

	s.mu.Lock()
	queued := s.takeQueued()
	started, synced := s.started, s.synced
	s.mu.Unlock()
	closeUnits(queued)

	if immediate {
		s.logger.Info("Немедленная остановка сессии", zap.Int("dropped", len(queued)))
		return s.fire(eventTerminate)
	}
	if state == StateShuttingDown {
		return nil
	}
	if !started || !synced {
		s.logger.Info("Остановка без синхронизации, блок не доигрывается")
		return s.fire(eventTerminate)
	}

	s.logger.Info("Остановка сессии после текущего блока", zap.Int("dropped", len(queued)))
	return s.fire(eventShutdown)
}

// takeQueued забирает очередь. Вызывается под s.mu.
func (s *Session) takeQueued() []AudioUnit {
	queued := append(s.interrupts, s.playlist...)
	s.interrupts = nil
	s.playlist = nil
	return queued
}

func closeUnits(units []AudioUnit) {
	for _, u := range units {
		_ = u.Close()
	}
}

func (s *Session) fire(event string) error {
	s.fsmMu.Lock()
	from := s.State()
	err := s.machine.Event(context.Background(), event)
	to := s.State()
	s.fsmMu.Unlock()

	if err != nil {
		return newSessionError(ErrorCodeInvalidState, s.id,
			fmt.Sprintf("событие %s недопустимо в состоянии %s", event, from), err)
	}

	s.emit(Event{Type: EventStateChanged, From: from, To: to})

	if to == StateTerminated {
		s.cancel()
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			s.doneOnce.Do(func() { close(s.done) })
		}
	}
	return nil
}

func (s *Session) onTransition(from, to State) {
	stateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	s.logger.Info("Смена состояния сессии",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// warn пишет предупреждение не чаще лимита
func (s *Session) warn(msg string, fields ...zap.Field) {
	if s.warnLimiter.Allow() {
		s.logger.Warn(msg, fields...)
	}
}

func (s *Session) reportSendFailure(msg string, err error) {
	sendErrorsTotal.WithLabelValues(s.config.Group).Inc()
	s.warn(msg, zap.Error(err))
	s.emit(Event{Type: EventSendFailed, Err: err})
}

func (s *Session) cycleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// pump горутина отправки кадров
func (s *Session) pump(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cycleTime())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := time.Now()
		s.tick(ctx)
		cycleDuration.Observe(time.Since(started).Seconds())

		if ctx.Err() != nil {
			return
		}
		timer.Reset(time.Until(started.Add(s.cycleTime())))
	}
}

// tick отправляет не более одного кадра
func (s *Session) tick(ctx context.Context) {
	state := s.State()
	if state != StateStreaming && state != StateShuttingDown {
		return
	}
	s.applyPending(ctx, state)

	for {
		if s.current == nil {
			if state == StateShuttingDown {
				if err := s.fire(eventFinish); err != nil {
					s.logger.Debug("Завершение уже выполнено", zap.Error(err))
				}
				return
			}
			unit, interrupt := s.nextUnit()
			if unit == nil {
				return
			}
			s.startUnit(ctx, unit, interrupt)
			continue
		}

		chunk := make([]byte, rtp.PayloadSize)
		n, eof, err := fillChunk(s.current.unit, chunk)
		if err != nil {
			s.logger.Error("Ошибка чтения блока",
				zap.String("unit", s.current.unit.ID()), zap.Error(err))
			p := s.endUnit("failed", true, newSessionError(ErrorCodeUnitFailed, s.id, "ошибка чтения блока", err))
			_ = p.unit.Close()
			continue
		}
		if n == 0 && eof {
			p := s.endUnit("completed", false, nil)
			_ = p.unit.Close()
			continue
		}

		for i := n; i < len(chunk); i++ {
			chunk[i] = rtp.SilenceByte
		}
		s.transmit(chunk)

		if eof {
			p := s.endUnit("completed", false, nil)
			_ = p.unit.Close()
		}
		return
	}
}

// applyPending перематывает блок после долгой потери синхронизации
// и запускает прерывание
func (s *Session) applyPending(ctx context.Context, state State) {
	s.mu.Lock()
	restart := s.restartPending
	s.restartPending = false
	var interrupt AudioUnit
	if state == StateStreaming && len(s.interrupts) > 0 && (s.current == nil || !s.current.interrupt) {
		interrupt = s.interrupts[0]
		s.interrupts = s.interrupts[1:]
	}
	s.mu.Unlock()

	if restart && s.current != nil {
		if err := s.current.unit.Rewind(); err != nil {
			s.logger.Error("Ошибка перемотки блока", zap.Error(err))
		} else {
			s.current.restarted = true
			s.logger.Info("Блок перезапущен после простоя",
				zap.String("unit", s.current.unit.ID()))
		}
	}

	if interrupt == nil {
		return
	}
	if s.current != nil {
		p := s.endUnit("interrupted", true, nil)
		if err := p.unit.Rewind(); err != nil {
			s.logger.Error("Ошибка перемотки прерванного блока", zap.Error(err))
		}
		s.mu.Lock()
		s.playlist = append([]AudioUnit{p.unit}, s.playlist...)
		s.mu.Unlock()
	}
	s.startUnit(ctx, interrupt, true)
}

func (s *Session) nextUnit() (AudioUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interrupts) > 0 {
		u := s.interrupts[0]
		s.interrupts = s.interrupts[1:]
		return u, true
	}
	if len(s.playlist) > 0 {
		u := s.playlist[0]
		s.playlist = s.playlist[1:]
		return u, false
	}
	return nil, false
}

func (s *Session) startUnit(ctx context.Context, unit AudioUnit, interrupt bool) {
	now := time.Now()
	if p, ok := unit.(preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			s.logger.Error("Блок не подготовлен", zap.String("unit", unit.ID()), zap.Error(err))
			unitsFinishedTotal.WithLabelValues(string(unit.Kind()), "failed").Inc()
			s.emit(Event{
				Type:     EventUnitFinished,
				UnitID:   unit.ID(),
				UnitKind: unit.Kind(),
				Started:  now,
				Err:      err,
			})
			_ = unit.Close()
			return
		}
	}

	s.current = &playing{unit: unit, started: now, interrupt: interrupt}
	s.logger.Info("Начато воспроизведение блока",
		zap.String("unit", unit.ID()),
		zap.String("kind", string(unit.Kind())),
		zap.Bool("interrupt", interrupt))
	s.emit(Event{Type: EventUnitStarted, UnitID: unit.ID(), UnitKind: unit.Kind(), Started: now})
}

// endUnit снимает текущий блок и записывает историю. Блок не закрывается.
func (s *Session) endUnit(result string, interrupted bool, err error) *playing {
	p := s.current
	s.current = nil
	finished := time.Now()

	entry := playback.Entry{
		SessionID:   s.id,
		Group:       s.config.Group,
		UnitID:      p.unit.ID(),
		Kind:        string(p.unit.Kind()),
		Started:     p.started,
		Finished:    finished,
		Interrupted: interrupted,
		Restarted:   p.restarted,
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	if recErr := s.recorder.Record(ctx, entry); recErr != nil {
		s.warn("Ошибка записи истории воспроизведения", zap.Error(recErr))
	}
	cancel()

	unitsFinishedTotal.WithLabelValues(string(p.unit.Kind()), result).Inc()
	s.logger.Info("Воспроизведение блока завершено",
		zap.String("unit", p.unit.ID()),
		zap.String("result", result),
		zap.Duration("duration", entry.Duration()))
	s.emit(Event{
		Type:        EventUnitFinished,
		UnitID:      p.unit.ID(),
		UnitKind:    p.unit.Kind(),
		Started:     p.started,
		Interrupted: interrupted,
		Err:         err,
	})
	return p
}

// transmit строит и отправляет кадр. Кадр отправляется целиком либо не отправляется.
func (s *Session) transmit(chunk []byte) {
	mask := s.Transmitters()

	var (
		pkt *rtp.Packet
		err error
	)
	if s.last == nil {
		pkt, err = rtp.NewFactory().
			SetSequenceNumber(0).
			SetTimestamp(0).
			SetTransmitters(mask).
			SetCurrentPayload(chunk).
			Create()
	} else {
		pkt, err = rtp.Successor(s.last, chunk, mask)
	}
	if err != nil {
		s.logger.Error("Ошибка построения кадра", zap.Error(err))
		s.emit(Event{Type: EventSendFailed, Err: err})
		return
	}
	s.last = pkt

	if err := s.data.SendPacket(pkt); err != nil {
		s.reportSendFailure("Ошибка отправки кадра",
			newSessionError(ErrorCodeSendFailed, s.id, fmt.Sprintf("кадр %d", pkt.SequenceNumber), err))
		return
	}
	packetsSentTotal.WithLabelValues(s.config.Group).Inc()
	if s.observer != nil {
		s.observer(pkt)
	}
}

// controlLoop отправляет heartbeat и следит за синхронизацией.
// Без синхронизации вместо heartbeat повторяется запрос синхронизации.
func (s *Session) controlLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			synced := s.synced
			s.mu.Unlock()

			var err error
			if synced {
				err = s.control.Heartbeat()
			} else {
				err = s.control.send(InitialSyncMessage)
			}
			if err != nil {
				s.reportSendFailure("Ошибка отправки heartbeat", err)
			}
			s.checkSync(now)
		}
	}
}

func (s *Session) checkSync(now time.Time) {
	s.mu.Lock()
	if !s.synced || now.Sub(s.lastStatusAt) < s.config.SyncTimeout {
		s.mu.Unlock()
		return
	}
	s.synced = false
	silence := now.Sub(s.lastStatusAt)
	s.mu.Unlock()

	syncLossesTotal.WithLabelValues(s.config.Group).Inc()
	s.logger.Warn("Потеряна синхронизация с DAC", zap.Duration("silence", silence))
	s.emit(Event{Type: EventLostSync, Time: now})

	var err error
	switch s.State() {
	case StateStreaming:
		err = s.fire(eventLoseSync)
	case StateShuttingDown:
		s.logger.Warn("Синхронизация потеряна при остановке, блок не доигрывается")
		err = s.fire(eventTerminate)
	}
	if err != nil {
		s.logger.Debug("Переход по потере синхронизации не выполнен", zap.Error(err))
	}
}

// statusLoop принимает сообщения DAC
func (s *Session) statusLoop(ctx context.Context) {
	defer s.wg.Done()

	for ctx.Err() == nil {
		reply, err := s.control.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rtp.IsTimeout(err) {
				continue
			}
			if errors.Is(err, ErrMalformedStatus) {
				raw, _ := RawStatus(err)
				malformedStatusTotal.WithLabelValues(s.config.Group).Inc()
				s.warn("Некорректный статус DAC", zap.String("raw", raw), zap.Error(err))
				s.emit(Event{Type: EventMalformedStatus, Err: err})
				continue
			}

			if !rtp.IsRetryable(err) {
				s.logger.Error("Управляющий канал закрыт, статусы DAC больше не читаются", zap.Error(err))
				return
			}
			s.warn("Ошибка чтения управляющего канала", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.CycleTime):
			}
			continue
		}

		if reply.rejected {
			s.warn("DAC отклонил хост: синхронизацию держит другой хост")
			continue
		}
		s.handleStatus(reply.status)
	}
}

func (s *Session) handleStatus(st *DacStatus) {
	now := st.ReceivedAt

	s.mu.Lock()
	prev := s.lastStatus
	wasSynced := s.synced
	downtime := now.Sub(s.lastStatusAt)
	s.lastStatus = st
	s.lastStatusAt = now
	s.synced = true
	s.cycle = s.config.nextCycleTime(st.BufferSize)
	restart := !wasSynced && downtime >= s.config.RestartThreshold
	if restart {
		s.restartPending = true
	}
	transmitters := s.transmitters.Transmitters()
	s.mu.Unlock()

	dacBufferPackets.WithLabelValues(s.config.Group).Set(float64(st.BufferSize))

	report := st.NeedsReport(prev, transmitters, s.config.AlertLowPackets, s.config.AlertHighPackets)
	if report {
		s.logger.Info("Статус DAC",
			zap.Float64("psu1", st.PSU1Voltage),
			zap.Float64("psu2", st.PSU2Voltage),
			zap.Int("buffer", st.BufferSize),
			zap.Int("recoverable_errors", st.RecoverableErrors),
			zap.Int("unrecoverable_errors", st.UnrecoverableErrors))
	}
	s.emit(Event{Type: EventStatusReceived, Time: now, Status: st, Report: report})

	if wasSynced {
		return
	}
	s.logger.Info("Синхронизация с DAC восстановлена",
		zap.Duration("downtime", downtime), zap.Bool("restart", restart))
	s.emit(Event{Type: EventRegainedSync, Time: now, Downtime: downtime, Restart: restart})
	if s.State() == StateDegraded {
		if err := s.fire(eventRegainSync); err != nil {
			s.logger.Debug("Переход по восстановлению синхронизации не выполнен", zap.Error(err))
		}
	}
}

// release закрывает блоки после остановки горутин
func (s *Session) release() {
	if s.current != nil {
		p := s.endUnit("interrupted", true, nil)
		_ = p.unit.Close()
	}
	s.mu.Lock()
	queued := s.takeQueued()
	s.mu.Unlock()
	closeUnits(queued)
}
