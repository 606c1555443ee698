package tones

import (
	"bytes"
	"fmt"
	"sync"
)

// Статические параметры протокола. Менять нельзя: приемник декодирует
// последовательность как аналоговый сигнал.
const (
	SilenceBetweenPreambles = 8000
	SilenceBeforeAlert      = 2 * 8000
	SilenceBeforeMessage    = 4 * 8000
	SilenceAfterMessage     = 2 * 8000

	AlertToneFrequency = 1050.0
	AlertToneAmplitude = 8192.0
	AlertToneDuration  = 9.0

	TransferPrimaryFrequency   = 1800.0
	TransferSecondaryFrequency = 2400.0
	TransferAmplitude          = 24000.0
	TransferDuration           = 5.0

	EndOfMessageCode = "NNNN"
	preambleLength   = 16
	preambleByte     = 0xAB
)

// TransferType порядок тонов переключения передатчика
type TransferType int

const (
	PrimaryToSecondary TransferType = iota
	SecondaryToPrimary
)

func (t TransferType) String() string {
	switch t {
	case PrimaryToSecondary:
		return "PRIMARY_TO_SECONDARY"
	case SecondaryToPrimary:
		return "SECONDARY_TO_PRIMARY"
	default:
		return fmt.Sprintf("TransferType(%d)", int(t))
	}
}

// StaticTones неизменяемый кэш статических сигналов.
// Компоненты строятся один раз при первом обращении; все методы
// возвращают копии, поэтому кэш безопасно разделять между сессиями.
type StaticTones struct {
	gen  *Generator
	afsk *AFSKEncoder

	once sync.Once
	err  error

	preamble           []byte
	betweenPause       []byte
	beforeAlertPause   []byte
	alertTone          []byte
	beforeMessagePause []byte
	endOfMessage       []byte

	transferMu sync.Mutex
	transfer   map[TransferType][]byte
}

// NewStaticTones создает кэш поверх генератора
func NewStaticTones(gen *Generator) *StaticTones {
	if gen == nil {
		gen = DefaultGenerator()
	}
	return &StaticTones{
		gen:      gen,
		afsk:     NewAFSKEncoder(gen),
		transfer: make(map[TransferType][]byte, 2),
	}
}

// AFSK возвращает кодер, которым строятся SAME заголовки
func (st *StaticTones) AFSK() *AFSKEncoder {
	return st.afsk
}

func (st *StaticTones) build() error {
	st.once.Do(func() {
		st.preamble = st.afsk.EncodeBytes(bytes.Repeat([]byte{preambleByte}, preambleLength))
		st.betweenPause = silence(SilenceBetweenPreambles)
		st.beforeAlertPause = silence(SilenceBeforeAlert)
		st.alertTone = CompressPCM(CodecULaw, st.gen.Encode(Tone{
			Frequency: AlertToneFrequency,
			Amplitude: AlertToneAmplitude,
			Duration:  AlertToneDuration,
		}))
		st.beforeMessagePause = silence(SilenceBeforeMessage)

		eom, err := st.afsk.EncodeSAME(EndOfMessageCode)
		if err != nil {
			st.err = fmt.Errorf("не удалось построить конец сообщения: %w", err)
			return
		}
		after := silence(SilenceAfterMessage)

		buf := make([]byte, 0, len(after)+3*(len(st.preamble)+len(eom))+2*len(st.betweenPause))
		buf = append(buf, after...)
		for i := 0; i < 3; i++ {
			if i > 0 {
				buf = append(buf, st.betweenPause...)
			}
			buf = append(buf, st.preamble...)
			buf = append(buf, eom...)
		}
		st.endOfMessage = buf
	})
	return st.err
}

// Assemble собирает заголовок SAME:
// 3×(преамбула+заголовок) с паузами между ними, затем опционально
// пауза и тон оповещения, затем опционально пауза перед сообщением.
func (st *StaticTones) Assemble(header string, includeAlert, includeTrailingSilence bool) ([]byte, error) {
	if err := st.build(); err != nil {
		return nil, err
	}

	encoded, err := st.afsk.EncodeSAME(header)
	if err != nil {
		return nil, fmt.Errorf("заголовок SAME: %w", err)
	}

	size := 3*(len(st.preamble)+len(encoded)) + 2*len(st.betweenPause)
	if includeAlert {
		size += len(st.beforeAlertPause) + len(st.alertTone)
	}
	if includeTrailingSilence {
		size += len(st.beforeMessagePause)
	}

	buf := make([]byte, 0, size)
	for i := 0; i < 3; i++ {
		if i > 0 {
			buf = append(buf, st.betweenPause...)
		}
		buf = append(buf, st.preamble...)
		buf = append(buf, encoded...)
	}
	if includeAlert {
		buf = append(buf, st.beforeAlertPause...)
		buf = append(buf, st.alertTone...)
	}
	if includeTrailingSilence {
		buf = append(buf, st.beforeMessagePause...)
	}
	return buf, nil
}

// OnlyAlertTones тон оповещения и пауза перед сообщением
func (st *StaticTones) OnlyAlertTones() ([]byte, error) {
	if err := st.build(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(st.alertTone)+len(st.beforeMessagePause))
	buf = append(buf, st.alertTone...)
	return append(buf, st.beforeMessagePause...), nil
}

// EndOfMessageTones пауза после сообщения и 3×(преамбула+NNNN)
func (st *StaticTones) EndOfMessageTones() ([]byte, error) {
	if err := st.build(); err != nil {
		return nil, err
	}
	return bytes.Clone(st.endOfMessage), nil
}

// TransferTones тоны переключения основного/резервного передатчика.
func (st *StaticTones) TransferTones(t TransferType) ([]byte, error) {
	primary := Tone{Frequency: TransferPrimaryFrequency, Amplitude: TransferAmplitude, Duration: TransferDuration}
	secondary := Tone{Frequency: TransferSecondaryFrequency, Amplitude: TransferAmplitude, Duration: TransferDuration}

	st.transferMu.Lock()
	defer st.transferMu.Unlock()

	if cached, ok := st.transfer[t]; ok {
		return bytes.Clone(cached), nil
	}

	var pcm []int16
	switch t {
	case PrimaryToSecondary:
		pcm = append(st.gen.Encode(primary), st.gen.Encode(secondary)...)
	case SecondaryToPrimary:
		pcm = append(st.gen.Encode(secondary), st.gen.Encode(primary)...)
	default:
		return nil, fmt.Errorf("неизвестный тип переключения: %v", t)
	}

	encoded := CompressPCM(CodecULaw, pcm)
	st.transfer[t] = encoded
	return bytes.Clone(encoded), nil
}

func silence(n int) []byte {
	return bytes.Repeat([]byte{Silence}, n)
}
