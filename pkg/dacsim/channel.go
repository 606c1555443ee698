package dacsim

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/rtp"
)

const (
	simulatedVoltage = "12.0"
	simulatedGain    = "0.0"
)

// VoiceSource источник голосового статуса для heartbeat
type VoiceSource interface {
	VoiceStatus() string
}

// InputChannel входной канал DAC: принимает синхронизацию и heartbeat
// на управляющем порту, кадры на порту данных и отвечает статусом
// хосту, который держит синхронизацию.
type InputChannel struct {
	number  int
	config  Config
	buffer  *JitterBuffer
	data    rtp.Transport
	control rtp.Transport
	voice   VoiceSource
	logger  *zap.Logger
	warn    *rate.Limiter
	label   string

	mu            sync.Mutex
	syncAddr      net.Addr
	lastHeartbeat time.Time

	wg sync.WaitGroup
}

// NewInputChannel создает канал поверх готовых транспортов
func NewInputChannel(number int, config Config, buffer *JitterBuffer, data, control rtp.Transport, voice VoiceSource, logger *zap.Logger) *InputChannel {
	return &InputChannel{
		number:  number,
		config:  config,
		buffer:  buffer,
		data:    data,
		control: control,
		voice:   voice,
		logger:  logging.Component(logger, "channel").With(zap.Int("channel", number)),
		warn:    rate.NewLimiter(rate.Every(time.Second), 2),
		label:   strconv.Itoa(number),
	}
}

// Number номер канала
func (c *InputChannel) Number() int {
	return c.number
}

// Buffer jitter буфер канала
func (c *InputChannel) Buffer() *JitterBuffer {
	return c.buffer
}

// SyncHost адрес хоста, который держит синхронизацию, либо nil
func (c *InputChannel) SyncHost() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncAddr
}

// Start запускает горутины канала
func (c *InputChannel) Start(ctx context.Context) {
	c.wg.Add(3)
	go c.controlLoop(ctx)
	go c.heartbeatLoop(ctx)
	go c.dataLoop(ctx)
}

// Wait ждет остановки горутин после отмены контекста
func (c *InputChannel) Wait() {
	c.wg.Wait()
}

func (c *InputChannel) controlLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		data, addr, err := c.control.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rtp.IsTimeout(err) {
				c.checkTimeout(time.Now())
				continue
			}
			if !rtp.IsRetryable(err) {
				c.logger.Error("Управляющий порт недоступен, чтение остановлено", zap.Error(err))
				return
			}
			c.throttledWarn("Ошибка чтения управляющего порта", zap.Error(err))
			c.pause(ctx)
			continue
		}
		c.handleControl(strings.TrimRight(string(data), "\x00\r\n"), addr, time.Now())
	}
}

// handleControl обрабатывает управляющее сообщение
func (c *InputChannel) handleControl(msg string, addr net.Addr, now time.Time) {
	c.mu.Lock()

	if c.syncAddr != nil && sameHost(c.syncAddr, addr) {
		switch msg {
		case dacsession.InitialSyncMessage, dacsession.HeartbeatMessage:
			c.lastHeartbeat = now
			c.syncAddr = addr
		case dacsession.ClearBufferMessage:
			c.lastHeartbeat = now
			c.buffer.Clear()
		default:
			c.throttledWarn("Некорректное сообщение синхронизации", zap.String("message", msg))
			c.expireLocked(now)
		}
		c.mu.Unlock()
		return
	}

	if c.syncAddr != nil && !c.expireLocked(now) {
		holder := c.syncAddr
		c.mu.Unlock()

		syncEventsTotal.WithLabelValues(c.label, "rejected").Inc()
		c.throttledWarn("Отказ в синхронизации: канал занят",
			zap.Stringer("from", addr), zap.Stringer("holder", holder))
		if err := c.control.SendTo([]byte(dacsession.RejectMessage), addr); err != nil {
			c.throttledWarn("Ошибка отправки отказа", zap.Error(err))
		}
		return
	}

	c.attemptSyncLocked(msg, addr, now)
	c.mu.Unlock()
}

// attemptSyncLocked вызывается под c.mu без синхронизации
func (c *InputChannel) attemptSyncLocked(msg string, addr net.Addr, now time.Time) {
	switch msg {
	case dacsession.InitialSyncMessage:
		c.syncAddr = addr
		c.lastHeartbeat = now
		syncEventsTotal.WithLabelValues(c.label, "obtained").Inc()
		c.logger.Info("Получена синхронизация", zap.Stringer("host", addr))
	case dacsession.ClearBufferMessage:
		c.buffer.Clear()
		c.logger.Debug("Буфер очищен по запросу", zap.Stringer("host", addr))
	case dacsession.HeartbeatMessage:
		c.throttledWarn("Heartbeat от несинхронизированного хоста", zap.Stringer("host", addr))
	default:
		c.throttledWarn("Некорректное сообщение от несинхронизированного хоста",
			zap.Stringer("host", addr), zap.String("message", msg))
	}
}

// expireLocked снимает синхронизацию, если heartbeat просрочен
func (c *InputChannel) expireLocked(now time.Time) bool {
	if c.syncAddr == nil {
		return true
	}
	if now.Sub(c.lastHeartbeat) < c.config.SyncTimeout {
		return false
	}
	c.logger.Info("Синхронизация потеряна", zap.Stringer("host", c.syncAddr))
	syncEventsTotal.WithLabelValues(c.label, "lost").Inc()
	c.syncAddr = nil
	return true
}

func (c *InputChannel) checkTimeout(now time.Time) {
	c.mu.Lock()
	if c.syncAddr != nil {
		c.expireLocked(now)
	}
	c.mu.Unlock()
}

func (c *InputChannel) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.checkTimeout(now)
			addr := c.SyncHost()
			bufferPackets.WithLabelValues(c.label).Set(float64(c.buffer.Len()))
			if addr == nil {
				continue
			}
			if err := c.control.SendTo([]byte(c.StatusMessage()), addr); err != nil {
				c.throttledWarn("Ошибка отправки heartbeat", zap.Error(err))
			}
		}
	}
}

// StatusMessage статус канала в формате DAC
func (c *InputChannel) StatusMessage() string {
	var sb strings.Builder
	sb.WriteByte('0')
	sb.WriteString(simulatedVoltage + "," + simulatedVoltage + ",")
	sb.WriteString(strconv.Itoa(c.buffer.Len()))
	for i := 0; i < dacsession.NumberOfRadios; i++ {
		sb.WriteString("," + simulatedGain)
	}
	sb.WriteString(",")
	sb.WriteString(c.voice.VoiceStatus())
	sb.WriteString(",0,0")
	return sb.String()
}

func (c *InputChannel) dataLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		data, addr, err := c.data.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rtp.IsTimeout(err) {
				continue
			}
			if !rtp.IsRetryable(err) {
				c.logger.Error("Порт данных недоступен, чтение остановлено", zap.Error(err))
				return
			}
			c.throttledWarn("Ошибка чтения порта данных", zap.Error(err))
			c.pause(ctx)
			continue
		}

		host := c.SyncHost()
		if host == nil || !sameHost(host, addr) {
			packetsRejectedTotal.WithLabelValues(c.label, "not_synced").Inc()
			continue
		}
		p, ok := extractAudio(data)
		if !ok {
			packetsRejectedTotal.WithLabelValues(c.label, "short").Inc()
			continue
		}
		c.buffer.Add(p)
		packetsReceivedTotal.WithLabelValues(c.label).Inc()
	}
}

func (c *InputChannel) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.config.CycleTime):
	}
}

func (c *InputChannel) throttledWarn(msg string, fields ...zap.Field) {
	if c.warn.Allow() {
		c.logger.Warn(msg, fields...)
	}
}

// extractAudio читает из кадра адресацию и текущую нагрузку.
// Заголовок не проверяется: DAC использует только эти поля.
func extractAudio(data []byte) (AudioPacket, bool) {
	if len(data) < rtp.PacketSize {
		return AudioPacket{}, false
	}
	addressing := binary.BigEndian.Uint32(data[rtp.AddressingOffset : rtp.AddressingOffset+4])
	payload := make([]byte, rtp.PayloadSize)
	copy(payload, data[rtp.CurrentPayloadOffset:rtp.CurrentPayloadOffset+rtp.PayloadSize])
	return AudioPacket{
		Payload: payload,
		Outputs: rtp.TransmitterMask(addressing & 0x0F),
	}, true
}

// sameHost сравнивает адреса без учета порта
func sameHost(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.IP.Equal(ub.IP)
	}
	ha, _, errA := net.SplitHostPort(a.String())
	hb, _, errB := net.SplitHostPort(b.String())
	if errA != nil || errB != nil {
		return a.String() == b.String()
	}
	return ha == hb
}
