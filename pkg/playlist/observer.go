package playlist

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/logging"
)

const (
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Handler получает действующий плейлист, появившийся в каталоге
type Handler func(info Info)

// Observer следит за каталогом плейлистов группы. Созданные и
// перемещенные в каталог файлы с именем плейлиста, действующие в момент
// появления, передаются обработчику. Файлы с другими именами и
// недействующие плейлисты пропускаются.
type Observer struct {
	dir     string
	handler Handler
	logger  *zap.Logger
	now     func() time.Time
}

// NewObserver создает наблюдателя за dir
func NewObserver(dir string, handler Handler, logger *zap.Logger) *Observer {
	return &Observer{
		dir:     dir,
		handler: handler,
		logger:  logging.Component(logger, "playlist_observer").With(zap.String("dir", dir)),
		now:     time.Now,
	}
}

// Run наблюдает до отмены ctx. Сломавшийся watcher пересоздается с
// нарастающей паузой.
func (o *Observer) Run(ctx context.Context) error {
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := o.watch(ctx, func() { backoff = restartBackoffBase })
		if ctx.Err() != nil {
			return nil
		}

		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		o.logger.Warn("Наблюдение за каталогом прервано, перезапуск",
			zap.Error(err), zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watch возвращает ошибку, когда watcher перестал работать
func (o *Observer) watch(ctx context.Context, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("не удалось создать watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(o.dir); err != nil {
		return fmt.Errorf("не удалось наблюдать за %s: %w", o.dir, err)
	}
	started()
	o.logger.Debug("Наблюдение за каталогом плейлистов запущено")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("канал событий закрыт")
			}
			// перемещение в каталог приходит как Create, Rename относится к старому имени
			if ev.Has(fsnotify.Create) {
				o.handle(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("канал ошибок закрыт")
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				o.logger.Warn("Переполнение очереди событий, часть плейлистов могла быть пропущена", zap.Error(err))
				continue
			}
			o.logger.Warn("Ошибка наблюдения за каталогом", zap.Error(err))
		}
	}
}

func (o *Observer) handle(path string) {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		return
	}
	info, err := ParseFileName(path)
	if err != nil {
		o.logger.Debug("Файл не является плейлистом", zap.String("path", path))
		return
	}
	if !info.Active(o.now()) {
		o.logger.Warn("Недействующий плейлист пропущен", zap.String("path", path),
			zap.Time("start", info.Start), zap.Time("expired", info.Expired))
		return
	}
	o.logger.Info("Новый плейлист", zap.String("path", path), zap.Int("priority", info.Priority))
	o.handler(info)
}
