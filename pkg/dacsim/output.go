package dacsim

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// EmitOutcome результат одного цикла выхода
type EmitOutcome int

const (
	// OutcomeSilence за цикл ничего не получено, выдана тишина
	OutcomeSilence EmitOutcome = iota
	// OutcomeDelivered выдана единственная полученная нагрузка
	OutcomeDelivered
	// OutcomeDroppedContention получено несколько нагрузок: выдана первая, остальные отброшены
	OutcomeDroppedContention
)

func (o EmitOutcome) String() string {
	switch o {
	case OutcomeSilence:
		return "silence"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDroppedContention:
		return "dropped_contention"
	default:
		return "unknown"
	}
}

// EmitResult нагрузка, выданная выходом за цикл
type EmitResult struct {
	Output  int
	Payload []byte
	Outcome EmitOutcome
	Dropped int
}

// OutputChannel выход передатчика. За цикл выдает ровно одну нагрузку.
type OutputChannel struct {
	number int
	logger *zap.Logger
	warn   *rate.Limiter

	mu      sync.Mutex
	pending [][]byte
	voice   dacsession.VoiceStatus
	dropped uint64

	// конкуренция с последнего записанного предупреждения
	contendedCycles  int
	contendedDropped int
}

// NewOutputChannel создает выход с номером number (1..4)
func NewOutputChannel(number int, logger *zap.Logger) *OutputChannel {
	return &OutputChannel{
		number:  number,
		logger:  logging.OrNop(logger).With(zap.Int("output", number)),
		warn:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		pending: make([][]byte, 0, 4),
	}
}

// Number номер выхода
func (c *OutputChannel) Number() int {
	return c.number
}

// Send ставит нагрузку на выдачу в текущем цикле
func (c *OutputChannel) Send(payload []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, payload)
	c.mu.Unlock()
}

// Emit выдает первую полученную за цикл нагрузку либо тишину и очищает очередь
func (c *OutputChannel) Emit() EmitResult {
	c.mu.Lock()
	res := EmitResult{Output: c.number}
	switch len(c.pending) {
	case 0:
		res.Payload = rtp.SilencePayload()
		res.Outcome = OutcomeSilence
		c.voice = dacsession.VoiceSilence
	case 1:
		res.Payload = c.pending[0]
		res.Outcome = OutcomeDelivered
		c.voice = dacsession.VoiceIPAudio
	default:
		res.Payload = c.pending[0]
		res.Outcome = OutcomeDroppedContention
		res.Dropped = len(c.pending) - 1
		c.dropped += uint64(res.Dropped)
		c.voice = dacsession.VoiceIPAudio
	}
	for i := range c.pending {
		c.pending[i] = nil
	}
	c.pending = c.pending[:0]
	c.mu.Unlock()

	emitsTotal.WithLabelValues(res.Outcome.String()).Inc()
	c.reportContention(res.Dropped)
	return res
}

// reportContention пишет предупреждение о конкуренции. Циклы, подавленные
// лимитером, входят в сумму следующего предупреждения, а после конца
// конкуренции выводятся отдельной записью.
func (c *OutputChannel) reportContention(dropped int) {
	c.mu.Lock()
	if dropped > 0 {
		c.contendedCycles++
		c.contendedDropped += dropped
	}
	cycles, total := c.contendedCycles, c.contendedDropped
	if cycles == 0 || !c.warn.Allow() {
		c.mu.Unlock()
		return
	}
	c.contendedCycles, c.contendedDropped = 0, 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("Несколько каналов передают на один выход, лишние нагрузки отброшены",
			zap.Int("dropped", dropped),
			zap.Int("cycles", cycles),
			zap.Int("dropped_total", total))
		return
	}
	c.logger.Warn("Конкуренция на выходе прекратилась",
		zap.Int("cycles", cycles),
		zap.Int("dropped_total", total))
}

// Pending число нагрузок, ожидающих выдачи
func (c *OutputChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// VoiceStatus состояние выхода по последнему циклу
func (c *OutputChannel) VoiceStatus() dacsession.VoiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// Dropped всего отброшено нагрузок
func (c *OutputChannel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
