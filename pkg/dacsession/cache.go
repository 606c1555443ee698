package dacsession

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/arzzra/dac_transmit/pkg/filelock"
	"github.com/arzzra/dac_transmit/pkg/logging"
	"github.com/arzzra/dac_transmit/pkg/tones"
)

// pcmExtension файлы с этим расширением содержат PCM16 LE и сжимаются в μ-law при загрузке
const pcmExtension = ".pcm"

// MessageCache LRU кэш аудио сообщений в μ-law.
// Файл читается под блокировкой реестра, чтобы не столкнуться с архивацией.
type MessageCache struct {
	cache  *lru.Cache[string, []byte]
	locks  *filelock.Registry
	logger *zap.Logger
}

// NewMessageCache создает кэш на size записей. locks=nil означает общий реестр процесса.
func NewMessageCache(size int, locks *filelock.Registry, logger *zap.Logger) (*MessageCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша сообщений: %w", err)
	}
	if locks == nil {
		locks = filelock.Default()
	}
	return &MessageCache{
		cache:  cache,
		locks:  locks,
		logger: logging.Component(logger, "message_cache"),
	}, nil
}

// Load возвращает аудио файла. Возвращенный буфер общий и не должен изменяться.
func (c *MessageCache) Load(ctx context.Context, path string) ([]byte, error) {
	key := filepath.Clean(path)
	if audio, ok := c.cache.Get(key); ok {
		return audio, nil
	}

	handle, ok := c.locks.Lock(ctx, key)
	if !ok {
		c.logger.Warn("Файл сообщения занят, загрузка пропущена", zap.String("path", key))
		return nil, newSessionError(ErrorCodeUnitFailed, "", "файл сообщения занят: "+key, nil)
	}
	defer handle.Unlock()

	raw, err := os.ReadFile(key)
	if err != nil {
		return nil, newSessionError(ErrorCodeUnitFailed, "", "ошибка чтения сообщения", err)
	}

	audio := raw
	if strings.EqualFold(filepath.Ext(key), pcmExtension) {
		var out bytes.Buffer
		if _, err := out.ReadFrom(tones.NewCompressReader(bytes.NewReader(raw), tones.CodecULaw)); err != nil {
			return nil, newSessionError(ErrorCodeUnitFailed, "", "ошибка сжатия PCM", err)
		}
		audio = out.Bytes()
	}

	c.cache.Add(key, audio)
	c.logger.Debug("Сообщение загружено", zap.String("path", key), zap.Int("bytes", len(audio)))
	return audio, nil
}

// Purge очищает кэш
func (c *MessageCache) Purge() {
	c.cache.Purge()
}

// Len число закэшированных сообщений
func (c *MessageCache) Len() int {
	return c.cache.Len()
}
