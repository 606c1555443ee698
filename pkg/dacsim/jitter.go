package dacsim

import (
	"sync"

	"github.com/arzzra/dac_transmit/pkg/rtp"
)

// BufferCapacity емкость jitter буфера канала в пакетах
const BufferCapacity = 255

// AudioPacket полезная нагрузка кадра и выходы, которым она адресована
type AudioPacket struct {
	Payload []byte
	Outputs rtp.TransmitterMask
}

// JitterBufferStats статистика буфера
type JitterBufferStats struct {
	Received    uint64
	Overwritten uint64
	Size        int
	Ready       bool
}

// JitterBuffer кольцевая FIFO очередь пакетов. При заполнении самый
// старый пакет перезаписывается. Буфер готов к вещанию, когда в нем
// накопилось не меньше minSize пакетов, и перестает быть готовым,
// когда опустошен.
type JitterBuffer struct {
	mu      sync.Mutex
	slots   [BufferCapacity]AudioPacket
	head    int
	size    int
	minSize int
	ready   bool

	received    uint64
	overwritten uint64
}

// NewJitterBuffer создает буфер
func NewJitterBuffer(minSize int) *JitterBuffer {
	if minSize <= 0 {
		minSize = DefaultMinBufferSize
	}
	return &JitterBuffer{minSize: minSize}
}

// Add добавляет пакет в конец очереди
func (b *JitterBuffer) Add(p AudioPacket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.received++
	tail := (b.head + b.size) % BufferCapacity
	if b.size == BufferCapacity {
		b.head = (b.head + 1) % BufferCapacity
		b.overwritten++
	} else {
		b.size++
	}
	b.slots[tail] = p

	if !b.ready && b.size >= b.minSize {
		b.ready = true
	}
}

// Get извлекает самый старый пакет. ok=false если буфер пуст.
func (b *JitterBuffer) Get() (AudioPacket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		b.ready = false
		return AudioPacket{}, false
	}
	p := b.slots[b.head]
	b.slots[b.head] = AudioPacket{}
	b.head = (b.head + 1) % BufferCapacity
	b.size--

	if b.size == 0 {
		b.ready = false
	}
	return p, true
}

// Ready готов ли буфер к вещанию
func (b *JitterBuffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Len число пакетов в буфере
func (b *JitterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Clear опустошает буфер
func (b *JitterBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.slots {
		b.slots[i] = AudioPacket{}
	}
	b.head, b.size, b.ready = 0, 0, false
}

// Stats возвращает статистику
func (b *JitterBuffer) Stats() JitterBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return JitterBufferStats{
		Received:    b.received,
		Overwritten: b.overwritten,
		Size:        b.size,
		Ready:       b.ready,
	}
}
