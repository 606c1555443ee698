package playlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/filelock"
	"github.com/arzzra/dac_transmit/pkg/logging"
)

// ArchiveDir подкаталог архива в каталоге плейлистов
const ArchiveDir = "archive"

// Archiver переносит отыгранные файлы в архив и возвращает их обратно.
// Файл переносится под блокировкой реестра; если блокировка не получена
// за время ожидания, перенос пропускается с предупреждением.
type Archiver struct {
	dir     string
	archive string
	locks   *filelock.Registry
	logger  *zap.Logger
}

// NewArchiver создает архив в dir/archive. locks=nil означает общий реестр процесса.
func NewArchiver(dir string, locks *filelock.Registry, logger *zap.Logger) (*Archiver, error) {
	archive := filepath.Join(dir, ArchiveDir)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать архив плейлистов %s: %w", archive, err)
	}
	if locks == nil {
		locks = filelock.Default()
	}
	return &Archiver{
		dir:     dir,
		archive: archive,
		locks:   locks,
		logger:  logging.Component(logger, "archiver"),
	}, nil
}

// Dir каталог архива
func (a *Archiver) Dir() string {
	return a.archive
}

// Archive переносит файл в архив с заменой. false без ошибки означает,
// что файл занят и перенос пропущен.
func (a *Archiver) Archive(ctx context.Context, path string) (bool, error) {
	dst := filepath.Join(a.archive, filepath.Base(path))
	a.logger.Debug("Архивация файла", zap.String("path", path))

	handle, ok := a.locks.Lock(ctx, path)
	if !ok {
		a.logger.Warn("Файл не архивирован: не удалось получить блокировку", zap.String("path", path))
		return false, nil
	}
	defer handle.Unlock()

	if err := os.Rename(path, dst); err != nil {
		return false, fmt.Errorf("ошибка архивации %s: %w", path, err)
	}
	a.logger.Info("Файл архивирован", zap.String("path", path), zap.String("archive", dst))
	return true, nil
}

// Restore возвращает файл name из архива в каталог плейлистов.
// false без ошибки: файла нет в архиве либо он занят.
func (a *Archiver) Restore(ctx context.Context, name string) (bool, error) {
	src := filepath.Join(a.archive, filepath.Base(name))
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки архива %s: %w", src, err)
	}

	dst := filepath.Join(a.dir, filepath.Base(name))
	handle, ok := a.locks.Lock(ctx, dst)
	if !ok {
		a.logger.Warn("Файл не восстановлен: не удалось получить блокировку", zap.String("path", dst))
		return false, nil
	}
	defer handle.Unlock()

	if err := os.Rename(src, dst); err != nil {
		return false, fmt.Errorf("ошибка восстановления %s: %w", src, err)
	}
	a.logger.Info("Файл восстановлен из архива", zap.String("path", dst))
	return true, nil
}
