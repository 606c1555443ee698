package rtp

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/pion/rtp"
)

// Параметры кадра DAC
const (
	PayloadSize = 160 // отсчетов (байт μ-law) в одной полезной нагрузке, 20 мс

	FixedHeaderSize     = 12 // стандартный заголовок RTP
	ExtensionHeaderSize = 8  // профиль + длина + 32-битная адресация
	HeaderSize          = FixedHeaderSize + ExtensionHeaderSize
	PacketSize          = HeaderSize + 2*PayloadSize

	// AddressingOffset смещение 32-битного поля адресации в кадре
	AddressingOffset = FixedHeaderSize + 4
	// PreviousPayloadOffset смещение предыдущей полезной нагрузки
	PreviousPayloadOffset = HeaderSize
	// CurrentPayloadOffset смещение текущей полезной нагрузки
	CurrentPayloadOffset = HeaderSize + PayloadSize

	PayloadType      = 121    // динамический тип DAC
	ExtensionProfile = 0x0067 // идентификатор расширения адресации
	MaxTransmitters  = 4

	// SilenceByte μ-law тишина
	SilenceByte byte = 0xFF
)

// TransmitterMask битовая маска передатчиков: бит i соответствует передатчику i+1
type TransmitterMask uint8

// NewTransmitterMask строит маску из номеров передатчиков 1..4
func NewTransmitterMask(transmitters ...int) (TransmitterMask, error) {
	var m TransmitterMask
	for _, tx := range transmitters {
		if tx < 1 || tx > MaxTransmitters {
			return 0, newFrameError(ErrorCodeInvalidTransmitter, "transmitters",
				fmt.Sprintf("номер передатчика %d вне диапазона 1..%d", tx, MaxTransmitters))
		}
		m |= 1 << uint(tx-1)
	}
	return m, nil
}

// Has проверяет адресован ли передатчик tx (1..4)
func (m TransmitterMask) Has(tx int) bool {
	if tx < 1 || tx > MaxTransmitters {
		return false
	}
	return m&(1<<uint(tx-1)) != 0
}

// Transmitters возвращает номера адресованных передатчиков по возрастанию
func (m TransmitterMask) Transmitters() []int {
	out := make([]int, 0, bits.OnesCount8(uint8(m)))
	for i := 0; i < MaxTransmitters; i++ {
		if m&(1<<uint(i)) != 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// Empty true если ни один передатчик не выбран
func (m TransmitterMask) Empty() bool {
	return m&0x0F == 0
}

func (m TransmitterMask) String() string {
	txs := m.Transmitters()
	parts := make([]string, len(txs))
	for i, tx := range txs {
		parts[i] = fmt.Sprint(tx)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Packet аудио кадр для DAC: заголовок RTP с расширением адресации,
// предыдущая и текущая полезные нагрузки. Предыдущая нагрузка позволяет
// приемнику восстановить один потерянный кадр.
type Packet struct {
	SequenceNumber  uint16
	Timestamp       uint32
	SSRC            uint32
	Transmitters    TransmitterMask
	PreviousPayload []byte
	CurrentPayload  []byte
}

// Validate проверяет инварианты кадра
func (p *Packet) Validate() error {
	if p.Transmitters.Empty() {
		return newFrameError(ErrorCodeNoTransmitters, "transmitters", "не выбран ни один передатчик")
	}
	if len(p.PreviousPayload) != PayloadSize {
		return newFrameError(ErrorCodeInvalidPayloadSize, "previous_payload",
			fmt.Sprintf("длина %d, ожидается %d", len(p.PreviousPayload), PayloadSize))
	}
	if len(p.CurrentPayload) != PayloadSize {
		return newFrameError(ErrorCodeInvalidPayloadSize, "current_payload",
			fmt.Sprintf("длина %d, ожидается %d", len(p.CurrentPayload), PayloadSize))
	}
	return nil
}

// Encode сериализует кадр в PacketSize байт
func (p *Packet) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:          2,
			Extension:        true,
			PayloadType:      PayloadType,
			SequenceNumber:   p.SequenceNumber,
			Timestamp:        p.Timestamp,
			SSRC:             p.SSRC,
			ExtensionProfile: ExtensionProfile,
		},
		Payload: make([]byte, 0, 2*PayloadSize),
	}

	addressing := make([]byte, 4)
	binary.BigEndian.PutUint32(addressing, uint32(p.Transmitters&0x0F))
	if err := pkt.Header.SetExtension(0, addressing); err != nil {
		return nil, fmt.Errorf("ошибка установки расширения адресации: %w", err)
	}

	pkt.Payload = append(pkt.Payload, p.PreviousPayload...)
	pkt.Payload = append(pkt.Payload, p.CurrentPayload...)

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга кадра: %w", err)
	}
	if len(data) != PacketSize {
		return nil, newFrameError(ErrorCodeInvalidPacketSize, "packet",
			fmt.Sprintf("сериализовано %d байт, ожидается %d", len(data), PacketSize))
	}
	return data, nil
}

// Decode разбирает кадр. Лишние байты после CurrentPayload игнорируются,
// полезные нагрузки копируются.
func Decode(data []byte) (*Packet, error) {
	if len(data) < PacketSize {
		return nil, newFrameError(ErrorCodeInvalidPacketSize, "packet",
			fmt.Sprintf("получено %d байт, минимум %d", len(data), PacketSize))
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data[:PacketSize]); err != nil {
		return nil, fmt.Errorf("ошибка демаршалинга кадра: %w", err)
	}
	if pkt.Version != 2 {
		return nil, newFrameError(ErrorCodeInvalidHeader, "version",
			fmt.Sprintf("неподдерживаемая версия %d", pkt.Version))
	}
	if !pkt.Extension || pkt.ExtensionProfile != ExtensionProfile {
		return nil, newFrameError(ErrorCodeInvalidHeader, "extension",
			fmt.Sprintf("ожидается профиль расширения 0x%04X", ExtensionProfile))
	}

	addressing := pkt.GetExtension(0)
	if len(addressing) != 4 {
		return nil, newFrameError(ErrorCodeInvalidHeader, "extension",
			fmt.Sprintf("длина адресации %d байт", len(addressing)))
	}
	if len(pkt.Payload) != 2*PayloadSize {
		return nil, newFrameError(ErrorCodeInvalidPayloadSize, "payload",
			fmt.Sprintf("длина %d, ожидается %d", len(pkt.Payload), 2*PayloadSize))
	}

	return &Packet{
		SequenceNumber:  pkt.SequenceNumber,
		Timestamp:       pkt.Timestamp,
		SSRC:            pkt.SSRC,
		Transmitters:    TransmitterMask(binary.BigEndian.Uint32(addressing) & 0x0F),
		PreviousPayload: append([]byte(nil), pkt.Payload[:PayloadSize]...),
		CurrentPayload:  append([]byte(nil), pkt.Payload[PayloadSize:]...),
	}, nil
}

// SilencePayload возвращает новую полезную нагрузку из тишины
func SilencePayload() []byte {
	buf := make([]byte, PayloadSize)
	for i := range buf {
		buf[i] = SilenceByte
	}
	return buf
}
