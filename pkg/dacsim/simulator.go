package dacsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// Simulator программный DAC: входные каналы с jitter буферами,
// выходы передатчиков и поток ретрансляции того, что "звучит" в эфире.
type Simulator struct {
	config      Config
	logger      *zap.Logger
	broadcaster *Broadcaster
	channels    []*InputChannel
	transports  []rtp.Transport

	rebroadcast   rtp.Transport
	rebroadcaster *Rebroadcaster

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New создает симулятор и открывает UDP порты каналов
func New(config Config, logger *zap.Logger) (*Simulator, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger = logging.Component(logger, "dacsim")

	s := &Simulator{config: config, logger: logger}

	buffers := make([]*JitterBuffer, config.ChannelCount)
	for i := range buffers {
		buffers[i] = NewJitterBuffer(config.MinBufferSize)
	}
	s.broadcaster = NewBroadcaster(config.ChannelCount, buffers, logger)

	for i, ch := range config.Channels() {
		data, err := s.open(config.listen(ch.DataPort), "")
		if err != nil {
			s.closeTransports()
			return nil, fmt.Errorf("канал %d, порт данных %d: %w", ch.Number, ch.DataPort, err)
		}
		control, err := s.open(config.listen(ch.ControlPort), "")
		if err != nil {
			s.closeTransports()
			return nil, fmt.Errorf("канал %d, управляющий порт %d: %w", ch.Number, ch.ControlPort, err)
		}
		s.channels = append(s.channels,
			NewInputChannel(ch.Number, config, buffers[i], data, control, s.broadcaster, logger))
	}

	if config.RebroadcastAddress != "" {
		t, err := s.open(":0", config.RebroadcastAddress)
		if err != nil {
			s.closeTransports()
			return nil, fmt.Errorf("поток ретрансляции: %w", err)
		}
		rb, err := NewRebroadcaster()
		if err != nil {
			s.closeTransports()
			return nil, err
		}
		s.rebroadcast = t
		s.rebroadcaster = rb
	}
	return s, nil
}

func (s *Simulator) open(local, remote string) (rtp.Transport, error) {
	cfg := rtp.DefaultTransportConfig()
	cfg.LocalAddr = local
	cfg.RemoteAddr = remote
	t, err := rtp.NewUDPTransport(cfg)
	if err != nil {
		return nil, err
	}
	s.transports = append(s.transports, t)
	return t, nil
}

func (s *Simulator) closeTransports() {
	for _, t := range s.transports {
		_ = t.Close()
	}
}

// Channels входные каналы
func (s *Simulator) Channels() []*InputChannel {
	return s.channels
}

// Broadcaster вещатель симулятора
func (s *Simulator) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Start запускает каналы и цикл вещания
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("симулятор уже запущен")
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, ch := range s.channels {
		ch.Start(ctx)
	}
	s.wg.Add(1)
	go s.cycleLoop(ctx)

	s.logger.Info("Симулятор DAC запущен",
		zap.Int("channels", len(s.channels)),
		zap.Int("first_port", s.config.FirstChannelPort),
		zap.String("rebroadcast", s.config.RebroadcastAddress))
	return nil
}

// Stop останавливает горутины и закрывает порты
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.closeTransports()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	for _, ch := range s.channels {
		ch.Wait()
	}
	s.closeTransports()
	s.logger.Info("Симулятор DAC остановлен")
	return nil
}

func (s *Simulator) cycleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CycleTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			results := s.broadcaster.Cycle()
			s.sendRebroadcast(results)
			if elapsed := time.Since(started); elapsed > s.config.CycleTime {
				s.logger.Warn("Цикл вещания длиннее периода, возможны искажения",
					zap.Duration("elapsed", elapsed))
			}
		}
	}
}

func (s *Simulator) sendRebroadcast(results []EmitResult) {
	if s.rebroadcast == nil {
		return
	}
	data, err := s.rebroadcaster.Build(results)
	if err != nil {
		s.logger.Error("Ошибка построения пакета ретрансляции", zap.Error(err))
		return
	}
	if err := s.rebroadcast.Send(data); err != nil {
		s.logger.Debug("Ошибка отправки ретрансляции", zap.Error(err))
	}
}
