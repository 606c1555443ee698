package dacsession

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/arzzra/dac_transmit/pkg/tones"
)

// UnitKind вид аудио блока
type UnitKind string

const (
	UnitTone    UnitKind = "tone"
	UnitMessage UnitKind = "message"
	UnitLive    UnitKind = "live"
)

// AudioUnit источник μ-law аудио для сессии.
//
// Read возвращает (0, nil), если данных пока нет, и io.EOF, когда блок
// исчерпан. Rewind возвращает блок к началу для повторного воспроизведения.
type AudioUnit interface {
	ID() string
	Kind() UnitKind
	Read(p []byte) (int, error)
	Rewind() error
	Close() error
}

// preparer блок, которому нужна подготовка перед первым чтением
type preparer interface {
	Prepare(ctx context.Context) error
}

// ToneUnit блок из готового буфера тонов
type ToneUnit struct {
	id     string
	reader *bytes.Reader
}

// NewToneUnit создает блок поверх audio. Буфер не копируется.
func NewToneUnit(id string, audio []byte) *ToneUnit {
	return &ToneUnit{id: id, reader: bytes.NewReader(audio)}
}

func (u *ToneUnit) ID() string     { return u.id }
func (u *ToneUnit) Kind() UnitKind { return UnitTone }

func (u *ToneUnit) Read(p []byte) (int, error) {
	return u.reader.Read(p)
}

func (u *ToneUnit) Rewind() error {
	_, err := u.reader.Seek(0, io.SeekStart)
	return err
}

func (u *ToneUnit) Close() error { return nil }

// Message описание сообщения для воспроизведения
type Message struct {
	ID   string
	Path string // μ-law 8 кГц, либо PCM16 LE при расширении .pcm

	// SAMEHeader заголовок SAME; пустой означает сообщение без заголовка
	SAMEHeader   string
	IncludeAlert bool
	EndOfMessage bool
}

// MessageUnit блок сообщения: заголовок SAME, тон оповещения, аудио
// файла и завершающие тоны. Собирается при первом чтении.
type MessageUnit struct {
	msg    Message
	cache  *MessageCache
	static *tones.StaticTones

	mu     sync.Mutex
	reader *bytes.Reader
}

// NewMessageUnit создает блок сообщения
func NewMessageUnit(msg Message, cache *MessageCache, static *tones.StaticTones) *MessageUnit {
	return &MessageUnit{msg: msg, cache: cache, static: static}
}

func (u *MessageUnit) ID() string     { return u.msg.ID }
func (u *MessageUnit) Kind() UnitKind { return UnitMessage }

// Prepare загружает аудио и собирает блок
func (u *MessageUnit) Prepare(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.reader != nil {
		return nil
	}

	body, err := u.cache.Load(ctx, u.msg.Path)
	if err != nil {
		return err
	}

	var audio []byte
	switch {
	case u.msg.SAMEHeader != "":
		head, err := u.static.Assemble(u.msg.SAMEHeader, u.msg.IncludeAlert, true)
		if err != nil {
			return fmt.Errorf("ошибка сборки заголовка сообщения %s: %w", u.msg.ID, err)
		}
		audio = append(audio, head...)
	case u.msg.IncludeAlert:
		alert, err := u.static.OnlyAlertTones()
		if err != nil {
			return err
		}
		audio = append(audio, alert...)
	}
	audio = append(audio, body...)
	if u.msg.EndOfMessage {
		eom, err := u.static.EndOfMessageTones()
		if err != nil {
			return err
		}
		audio = append(audio, eom...)
	}

	u.reader = bytes.NewReader(audio)
	return nil
}

func (u *MessageUnit) Read(p []byte) (int, error) {
	if err := u.Prepare(context.Background()); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reader.Read(p)
}

func (u *MessageUnit) Rewind() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.reader == nil {
		return nil
	}
	_, err := u.reader.Seek(0, io.SeekStart)
	return err
}

func (u *MessageUnit) Close() error {
	u.mu.Lock()
	u.reader = nil
	u.mu.Unlock()
	return nil
}

// LiveUnit блок живого эфира. Аудио поступает через Write;
// пока данных нет, сессия передает тишину.
type LiveUnit struct {
	id string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewLiveUnit создает блок живого эфира
func NewLiveUnit(id string) *LiveUnit {
	return &LiveUnit{id: id}
}

func (u *LiveUnit) ID() string     { return u.id }
func (u *LiveUnit) Kind() UnitKind { return UnitLive }

// Write добавляет μ-law аудио в очередь блока
func (u *LiveUnit) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, io.ErrClosedPipe
	}
	return u.buf.Write(p)
}

func (u *LiveUnit) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buf.Len() == 0 {
		if u.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return u.buf.Read(p)
}

// Rewind для живого эфира ничего не делает
func (u *LiveUnit) Rewind() error { return nil }

// Close завершает эфир; накопленное аудио дочитывается
func (u *LiveUnit) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	return nil
}

// Buffered число байт, ожидающих отправки
func (u *LiveUnit) Buffered() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.buf.Len()
}

// fillChunk читает блок до заполнения chunk. eof=true когда блок исчерпан.
func fillChunk(u AudioUnit, chunk []byte) (n int, eof bool, err error) {
	for n < len(chunk) {
		m, err := u.Read(chunk[n:])
		n += m
		if err == io.EOF {
			return n, true, nil
		}
		if err != nil {
			return n, false, err
		}
		if m == 0 {
			break
		}
	}
	return n, false, nil
}
