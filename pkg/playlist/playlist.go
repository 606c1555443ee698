// Package playlist читает плейлисты группы передатчиков, архивирует
// отыгранные файлы и следит за появлением новых плейлистов в каталоге.
//
// Имя файла плейлиста несет его заголовок:
//
//	P<приоритет>_<набор>_<YYYYMMDDhhmm>_S<ddhhmm>_E<ddhhmm>.yaml
//
// где первая метка время создания, S начало и E окончание действия (UTC).
// Начало и окончание берут год и месяц от предыдущей метки; день меньше
// предыдущего означает переход на следующий месяц.
package playlist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/dac_transmit/pkg/dacsession"
	"github.com/arzzra/dac_transmit/pkg/tones"
)

// Extension расширение файлов плейлистов
const Extension = ".yaml"

var fileNamePattern = regexp.MustCompile(
	`^P(\d+)_([^_]*)_(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})_S(\d{2})(\d{2})(\d{2})_E(\d{2})(\d{2})(\d{2})\.yaml$`)

// ErrInvalidName имя файла не соответствует формату плейлиста
var ErrInvalidName = errors.New("имя файла не является именем плейлиста")

// Info заголовок плейлиста из имени файла
type Info struct {
	Path     string
	Group    string
	Priority int
	Suite    string
	Created  time.Time
	Start    time.Time
	Expired  time.Time
}

// Active действует ли плейлист в момент now
func (i Info) Active(now time.Time) bool {
	return !now.Before(i.Start) && now.Before(i.Expired)
}

// FileName строит имя файла по заголовку
func (i Info) FileName() string {
	return fmt.Sprintf("P%d_%s_%s_S%s_E%s%s", i.Priority, i.Suite,
		i.Created.UTC().Format("200601021504"),
		i.Start.UTC().Format("021504"),
		i.Expired.UTC().Format("021504"),
		Extension)
}

// ParseFileName разбирает путь к плейлисту. Группа берется из имени каталога.
func ParseFileName(path string) (Info, error) {
	m := fileNamePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidName, filepath.Base(path))
	}
	n := make([]int, len(m))
	for i := 3; i < len(m); i++ {
		n[i], _ = strconv.Atoi(m[i])
	}
	priority, _ := strconv.Atoi(m[1])

	created := time.Date(n[3], time.Month(n[4]), n[5], n[6], n[7], 0, 0, time.UTC)
	if created.Month() != time.Month(n[4]) || created.Day() != n[5] {
		return Info{}, fmt.Errorf("%w: некорректная дата создания", ErrInvalidName)
	}
	start := followingDay(created, n[8], n[9], n[10])
	expired := followingDay(start, n[11], n[12], n[13])

	return Info{
		Path:     path,
		Group:    filepath.Base(filepath.Dir(path)),
		Priority: priority,
		Suite:    m[2],
		Created:  created,
		Start:    start,
		Expired:  expired,
	}, nil
}

// followingDay момент с днем day в месяце base либо в следующем
func followingDay(base time.Time, day, hour, minute int) time.Time {
	t := time.Date(base.Year(), base.Month(), day, hour, minute, 0, 0, time.UTC)
	if day < base.Day() {
		t = time.Date(base.Year(), base.Month()+1, day, hour, minute, 0, 0, time.UTC)
	}
	return t
}

// Message сообщение плейлиста
type Message struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name,omitempty"`
	SoundFile string `yaml:"sound_file"`
	// SAMEHeader заголовок SAME, пустой для сообщений без тонов
	SAMEHeader   string `yaml:"same_header,omitempty"`
	AlertTone    bool   `yaml:"alert_tone,omitempty"`
	EndOfMessage bool   `yaml:"end_of_message,omitempty"`
}

// Playlist содержимое файла плейлиста
type Playlist struct {
	Info      `yaml:"-"`
	Interrupt bool      `yaml:"interrupt,omitempty"`
	Messages  []Message `yaml:"messages"`
}

// Load читает плейлист. Заголовок берется из имени файла.
func Load(path string) (*Playlist, error) {
	info, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения плейлиста %s: %w", path, err)
	}

	var p Playlist
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ошибка разбора плейлиста %s: %w", path, err)
	}
	p.Info = info
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("плейлист %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range p.Messages {
		if sf := p.Messages[i].SoundFile; sf != "" && !filepath.IsAbs(sf) {
			p.Messages[i].SoundFile = filepath.Join(dir, sf)
		}
	}
	return &p, nil
}

// Validate проверяет сообщения плейлиста
func (p *Playlist) Validate() error {
	if len(p.Messages) == 0 {
		return errors.New("плейлист пуст")
	}
	seen := make(map[string]bool, len(p.Messages))
	for i, m := range p.Messages {
		if m.ID == "" {
			return fmt.Errorf("сообщение %d без идентификатора", i)
		}
		if m.SoundFile == "" {
			return fmt.Errorf("сообщение %s без звукового файла", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("сообщение %s указано дважды", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Units блоки воспроизведения для сессии передачи
func (p *Playlist) Units(cache *dacsession.MessageCache, static *tones.StaticTones) []dacsession.AudioUnit {
	units := make([]dacsession.AudioUnit, 0, len(p.Messages))
	for _, m := range p.Messages {
		units = append(units, dacsession.NewMessageUnit(dacsession.Message{
			ID:           m.ID,
			Path:         m.SoundFile,
			SAMEHeader:   m.SAMEHeader,
			IncludeAlert: m.AlertTone,
			EndOfMessage: m.EndOfMessage,
		}, cache, static))
	}
	return units
}

// Scan находит действующие в момент now плейлисты каталога,
// упорядоченные по приоритету и затем по времени создания (новые первыми)
func Scan(dir string, now time.Time) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога плейлистов %s: %w", dir, err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := ParseFileName(filepath.Join(dir, e.Name()))
		if err != nil || !info.Active(now) {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}
