package tones

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Параметры SAME AFSK
const (
	SAMELogicOne  = 2083.3 // Гц, mark
	SAMELogicZero = 1562.5 // Гц, space
	SAMEBitRate   = 520.83 // бит/с
	SAMEAmplitude = 8192.0
	bitsPerByte   = 8
)

// ErrEmptySAME возвращается для пустого (после trim) сообщения SAME
var ErrEmptySAME = errors.New("пустое сообщение SAME")

// AFSKEncoder рендерит битовый поток двумя тонами.
//
// Биты каждого байта берутся от младшего к старшему, все 8 бит каждого байта.
// Символ k занимает отсчеты [B(k), B(k+1)), где
// B(k) = floor(k × SampleRate / BitRate + 0.5), то есть граница округляется
// половиной вверх от накопленной идеальной позиции. Длина символа получается
// 15 или 16 отсчетов, суммарный дрейф меньше одного отсчета.
type AFSKEncoder struct {
	gen       *Generator
	one       float64
	zero      float64
	amplitude float64
	bitRate   float64
}

// NewAFSKEncoder создает кодер SAME с параметрами по умолчанию
func NewAFSKEncoder(gen *Generator) *AFSKEncoder {
	if gen == nil {
		gen = DefaultGenerator()
	}
	return &AFSKEncoder{
		gen:       gen,
		one:       SAMELogicOne,
		zero:      SAMELogicZero,
		amplitude: SAMEAmplitude,
		bitRate:   SAMEBitRate,
	}
}

// SymbolBoundary возвращает индекс первого отсчета символа k.
func (e *AFSKEncoder) SymbolBoundary(k int) int {
	return int(math.Floor(float64(k)*e.gen.sampleRate/e.bitRate + 0.5))
}

// SamplesFor возвращает длину PCM для n байт входных данных
func (e *AFSKEncoder) SamplesFor(n int) int {
	return e.SymbolBoundary(n * bitsPerByte)
}

// Encode модулирует data в PCM16 с непрерывной фазой между символами.
func (e *AFSKEncoder) Encode(data []byte) []int16 {
	symbols := len(data) * bitsPerByte
	out := make([]int16, e.SymbolBoundary(symbols))

	phase := 0.0
	start := 0
	for k := 0; k < symbols; k++ {
		end := e.SymbolBoundary(k + 1)
		freq := e.zero
		if (data[k/bitsPerByte]>>(k%bitsPerByte))&1 == 1 {
			freq = e.one
		}
		phase = e.gen.synthesize(out[start:end], freq, e.amplitude, phase)
		start = end
	}
	return out
}

// EncodeSAME превращает текст SAME в μ-law поток линии.
func (e *AFSKEncoder) EncodeSAME(message string) ([]byte, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil, ErrEmptySAME
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] > 0x7F {
			return nil, fmt.Errorf("сообщение SAME содержит не-ASCII байт 0x%02X в позиции %d", trimmed[i], i)
		}
	}
	return e.EncodeBytes([]byte(trimmed)), nil
}

// EncodeBytes модулирует и компандирует произвольные байты (например, преамбулу).
func (e *AFSKEncoder) EncodeBytes(data []byte) []byte {
	return CompressPCM(CodecULaw, e.Encode(data))
}
