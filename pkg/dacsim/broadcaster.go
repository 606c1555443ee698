package dacsim

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/dacsession"
)

// Broadcaster связывает буферы входных каналов с выходами
type Broadcaster struct {
	buffers []*JitterBuffer
	outputs []*OutputChannel
}

// NewBroadcaster создает вещатель с count выходами
func NewBroadcaster(count int, buffers []*JitterBuffer, logger *zap.Logger) *Broadcaster {
	outputs := make([]*OutputChannel, count)
	for i := range outputs {
		outputs[i] = NewOutputChannel(i+1, logger)
	}
	return &Broadcaster{buffers: buffers, outputs: outputs}
}

// Outputs выходы по порядку номеров
func (b *Broadcaster) Outputs() []*OutputChannel {
	return b.outputs
}

// Cycle один цикл вещания: из каждого готового буфера извлекается один
// пакет и отправляется на адресованные выходы, затем каждый выход выдает
// ровно одну нагрузку.
func (b *Broadcaster) Cycle() []EmitResult {
	for _, buf := range b.buffers {
		if !buf.Ready() {
			continue
		}
		p, ok := buf.Get()
		if !ok {
			continue
		}
		for _, out := range b.outputs {
			if p.Outputs.Has(out.Number()) {
				out.Send(p.Payload)
			}
		}
	}

	results := make([]EmitResult, len(b.outputs))
	for i, out := range b.outputs {
		results[i] = out.Emit()
	}
	return results
}

// VoiceStatus строка голосового статуса для heartbeat: по цифре на
// каждый из четырех выходов, отсутствующие выходы молчат.
func (b *Broadcaster) VoiceStatus() string {
	var sb strings.Builder
	for i := 0; i < dacsession.NumberOfRadios; i++ {
		status := dacsession.VoiceSilence
		if i < len(b.outputs) {
			status = b.outputs[i].VoiceStatus()
		}
		sb.WriteString(strconv.Itoa(int(status)))
	}
	return sb.String()
}
