package tones

import (
	"fmt"
	"math"
)

// Tone описывает синусоидальный тон.
type Tone struct {
	Frequency float64 // Гц
	Amplitude float64 // пиковая амплитуда в единицах PCM16
	Duration  float64 // секунды
}

// SampleCount возвращает число отсчетов тона: round(Duration × SampleRate)
func (t Tone) SampleCount() int {
	return int(math.Floor(t.Duration*SampleRate + 0.5))
}

// Validate проверяет параметры тона
func (t Tone) Validate() error {
	if t.Frequency <= 0 || t.Frequency >= SampleRate/2 {
		return fmt.Errorf("частота тона вне диапазона (0, %d): %v", SampleRate/2, t.Frequency)
	}
	if t.Amplitude < 0 || t.Amplitude > math.MaxInt16 {
		return fmt.Errorf("амплитуда тона вне диапазона [0, %d]: %v", math.MaxInt16, t.Amplitude)
	}
	if t.Duration < 0 {
		return fmt.Errorf("длительность тона не может быть отрицательной: %v", t.Duration)
	}
	return nil
}

// Generator синтезирует PCM16 тоны с частотой дискретизации SampleRate.
type Generator struct {
	sampleRate float64
}

// DefaultGenerator возвращает генератор на 8 кГц
func DefaultGenerator() *Generator {
	return &Generator{sampleRate: SampleRate}
}

// Encode возвращает round(duration × sampleRate) отсчетов синуса, начиная с нулевой фазы.
func (g *Generator) Encode(tone Tone) []int16 {
	out := make([]int16, tone.SampleCount())
	g.synthesize(out, tone.Frequency, tone.Amplitude, 0)
	return out
}

// EncodeAll склеивает тоны без разрыва фазы на стыках.
func (g *Generator) EncodeAll(tones ...Tone) []int16 {
	total := 0
	for _, t := range tones {
		total += t.SampleCount()
	}
	out := make([]int16, total)
	phase := 0.0
	offset := 0
	for _, t := range tones {
		n := t.SampleCount()
		phase = g.synthesize(out[offset:offset+n], t.Frequency, t.Amplitude, phase)
		offset += n
	}
	return out
}

// synthesize заполняет dst синусом и возвращает фазу после последнего отсчета.
func (g *Generator) synthesize(dst []int16, frequency, amplitude, phase float64) float64 {
	step := 2 * math.Pi * frequency / g.sampleRate
	for i := range dst {
		dst[i] = int16(math.Round(amplitude * math.Sin(phase)))
		phase += step
		if phase >= 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}
	return phase
}
