package transmitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/rtp"
	"github.com/arzzra/dac_transmit/pkg/tones"
)

// DefaultMaintenanceTimeout предельное время работы в режиме обслуживания
const DefaultMaintenanceTimeout = 5 * time.Minute

// MaintenanceMessage сообщение проверки тракта. Задается ровно одно из
// Transfer, SAME и SoundFile.
//
//	group: north
//	same: "ZCZC-WXR-RWT-020103+0015-1231845-KEAX/NWS-"
type MaintenanceMessage struct {
	Name  string `yaml:"name,omitempty"`
	Group string `yaml:"group"`
	// Transfer PRIMARY_TO_SECONDARY или SECONDARY_TO_PRIMARY
	Transfer string `yaml:"transfer,omitempty"`
	// SAME заголовок; после него передаются тоны конца сообщения
	SAME string `yaml:"same,omitempty"`
	// SoundFile тестовое аудио μ-law, повторяется до заданной длительности
	SoundFile string `yaml:"sound_file,omitempty"`
}

// LoadMaintenanceMessage читает сообщение обслуживания из YAML
func LoadMaintenanceMessage(path string) (*MaintenanceMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сообщения обслуживания %s: %w", path, err)
	}
	var msg MaintenanceMessage
	if err := yaml.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("ошибка разбора сообщения обслуживания %s: %w", path, err)
	}
	if msg.Name == "" {
		msg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if msg.SoundFile != "" && !filepath.IsAbs(msg.SoundFile) {
		msg.SoundFile = filepath.Join(filepath.Dir(path), msg.SoundFile)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("сообщение обслуживания %s: %w", path, err)
	}
	return &msg, nil
}

// Validate проверяет, что задан ровно один вид сигнала
func (m *MaintenanceMessage) Validate() error {
	if m.Group == "" {
		return errors.New("не задана группа")
	}
	kinds := 0
	for _, v := range []string{m.Transfer, m.SAME, m.SoundFile} {
		if v != "" {
			kinds++
		}
	}
	if kinds != 1 {
		return errors.New("нужно задать ровно одно из transfer, same, sound_file")
	}
	if m.Transfer != "" {
		if _, err := ParseTransferType(m.Transfer); err != nil {
			return err
		}
	}
	return nil
}

// IsAudio true для тестового аудио, которому нужна длительность
func (m *MaintenanceMessage) IsAudio() bool {
	return m.SoundFile != ""
}

// Audio строит сигнал сообщения. Длительность используется только
// для тестового аудио и округляется вниз до целой нагрузки.
func (m *MaintenanceMessage) Audio(static *tones.StaticTones, duration time.Duration) ([]byte, error) {
	switch {
	case m.Transfer != "":
		t, err := ParseTransferType(m.Transfer)
		if err != nil {
			return nil, err
		}
		return static.TransferTones(t)

	case m.SAME != "":
		same, err := static.Assemble(m.SAME, false, true)
		if err != nil {
			return nil, err
		}
		eom, err := static.EndOfMessageTones()
		if err != nil {
			return nil, err
		}
		return append(same, eom...), nil

	default:
		if duration <= 0 {
			return nil, errors.New("для тестового аудио нужна длительность")
		}
		src, err := os.ReadFile(m.SoundFile)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения тестового аудио: %w", err)
		}
		if len(src) == 0 {
			return nil, fmt.Errorf("тестовое аудио %s пусто", m.SoundFile)
		}
		packets := int(duration / (20 * time.Millisecond))
		out := make([]byte, packets*rtp.PayloadSize)
		for i := 0; i < len(out); i += len(src) {
			copy(out[i:], src)
		}
		return out, nil
	}
}

// ParseTransferType разбирает порядок тонов переключения
func ParseTransferType(s string) (tones.TransferType, error) {
	for _, t := range []tones.TransferType{tones.PrimaryToSecondary, tones.SecondaryToPrimary} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("неизвестный тип переключения: %q", s)
}

// MaintenanceConfig параметры режима обслуживания
type MaintenanceConfig struct {
	Group    string
	Duration time.Duration
	// Timeout по истечении сессия останавливается немедленно
	Timeout time.Duration
}

// Maintenance проигрывает одно сообщение обслуживания и завершает сессию
type Maintenance struct {
	config  MaintenanceConfig
	session Session
	unit    *dacsession.ToneUnit
	length  time.Duration
	logger  *zap.Logger

	once  sync.Once
	mu    sync.Mutex
	timer *time.Timer
}

// NewMaintenance готовит сигнал сообщения для сессии группы
func NewMaintenance(config MaintenanceConfig, msg *MaintenanceMessage, session Session, static *tones.StaticTones, logger *zap.Logger) (*Maintenance, error) {
	if session == nil || static == nil || msg == nil {
		return nil, errors.New("не заданы сессия, статические тоны или сообщение")
	}
	if msg.Group != config.Group {
		return nil, fmt.Errorf("сообщение для группы %s, процесс обслуживает %s", msg.Group, config.Group)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultMaintenanceTimeout
	}

	audio, err := msg.Audio(static, config.Duration)
	if err != nil {
		return nil, err
	}
	packets := (len(audio) + rtp.PayloadSize - 1) / rtp.PayloadSize

	return &Maintenance{
		config:  config,
		session: session,
		unit:    dacsession.NewToneUnit("maintenance-"+msg.Name, audio),
		length:  time.Duration(packets) * 20 * time.Millisecond,
		logger:  logging.Component(logger, "maintenance").With(zap.String("group", config.Group)),
	}, nil
}

// PlaybackTime длительность сигнала
func (m *Maintenance) PlaybackTime() time.Duration {
	return m.length
}

// Start запускает сессию с единственным блоком и таймер аварийной остановки
func (m *Maintenance) Start(ctx context.Context) error {
	m.session.AddListener(m.onEvent)
	if err := m.session.Start(context.Background()); err != nil {
		return fmt.Errorf("ошибка запуска сессии: %w", err)
	}
	if err := m.session.AssignPlaylist(m.unit); err != nil {
		return fmt.Errorf("сессия не приняла сообщение обслуживания: %w", err)
	}

	m.mu.Lock()
	m.timer = time.AfterFunc(m.config.Timeout, m.reap)
	m.mu.Unlock()

	m.logger.Info("Режим обслуживания",
		zap.String("unit", m.unit.ID()),
		zap.Duration("playback", m.length),
		zap.Duration("timeout", m.config.Timeout))
	return nil
}

func (m *Maintenance) onEvent(ev dacsession.Event) {
	if ev.Type != dacsession.EventUnitFinished || ev.UnitID != m.unit.ID() {
		return
	}
	if ev.Err != nil {
		m.logger.Error("Сообщение обслуживания не проиграно", zap.Error(ev.Err))
	} else {
		m.logger.Info("Сообщение обслуживания проиграно")
	}
	// слушатель вызывается из горутины сессии
	go m.finish(false)
}

func (m *Maintenance) reap() {
	m.logger.Warn("Время обслуживания истекло, немедленная остановка")
	m.finish(true)
}

func (m *Maintenance) finish(immediate bool) {
	m.once.Do(func() {
		m.shutdown(immediate)
	})
}

func (m *Maintenance) shutdown(immediate bool) {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	if err := m.session.Shutdown(immediate); err != nil {
		m.logger.Error("Ошибка остановки сессии", zap.Error(err))
	}
}

// Stop останавливает сессию досрочно. Немедленная остановка выполняется
// и после уже начатой плавной.
func (m *Maintenance) Stop(immediate bool) {
	if immediate {
		m.shutdown(true)
		return
	}
	m.finish(false)
}

// Done закрывается после завершения сессии
func (m *Maintenance) Done() <-chan struct{} {
	return m.session.Done()
}
