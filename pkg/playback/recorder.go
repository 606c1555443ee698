// Package playback хранит историю воспроизведения аудио блоков.
//
// Сессия передачи зависит только от интерфейса Recorder; Store реализует
// его поверх SQLite через gorm.
package playback

import (
	"context"
	"time"
)

// Entry запись о воспроизведенном блоке
type Entry struct {
	SessionID   string
	Group       string
	UnitID      string
	Kind        string
	Started     time.Time
	Finished    time.Time
	Interrupted bool
	Restarted   bool
}

// Duration длительность воспроизведения
func (e Entry) Duration() time.Duration {
	return e.Finished.Sub(e.Started)
}

// Recorder принимает записи о воспроизведении
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NopRecorder отбрасывает записи
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }
