// Package filelock реализует процессный реестр advisory блокировок по пути файла.
//
// Блокировка ищется по очищенному пути и живет, пока на нее есть ссылки:
// ожидающие и владелец. Последний освободивший удаляет запись из реестра.
// Ожидание ограничено таймаутом; истекший таймаут означает
// "операция не выполнена" и не является ошибкой.
package filelock

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

// DefaultTimeout время ожидания блокировки по умолчанию
const DefaultTimeout = time.Second

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry реестр блокировок
type Registry struct {
	mu      sync.Mutex
	locks   map[string]*entry
	timeout time.Duration
}

// NewRegistry создает реестр. timeout <= 0 заменяется на DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		locks:   make(map[string]*entry),
		timeout: timeout,
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default возвращает общий реестр процесса
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(DefaultTimeout)
	})
	return defaultRegistry
}

// Handle захваченная блокировка
type Handle struct {
	registry *Registry
	path     string
	entry    *entry
	once     sync.Once
}

// Path путь, по которому взята блокировка
func (h *Handle) Path() string {
	return h.path
}

// Unlock освобождает блокировку. Повторный вызов ничего не делает.
func (h *Handle) Unlock() {
	h.once.Do(func() {
		<-h.entry.sem
		h.registry.release(h.path, h.entry)
	})
}

// Lock ждет блокировку не дольше таймаута реестра.
// ok=false при таймауте или отмене ctx.
func (r *Registry) Lock(ctx context.Context, path string) (*Handle, bool) {
	return r.LockTimeout(ctx, path, r.timeout)
}

// LockTimeout как Lock, но с явным таймаутом
func (r *Registry) LockTimeout(ctx context.Context, path string, timeout time.Duration) (*Handle, bool) {
	key := filepath.Clean(path)
	e := r.acquire(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return &Handle{registry: r, path: key, entry: e}, true
	case <-timer.C:
	case <-ctx.Done():
	}

	r.release(key, e)
	return nil, false
}

// TryLock берет блокировку без ожидания
func (r *Registry) TryLock(path string) (*Handle, bool) {
	key := filepath.Clean(path)
	e := r.acquire(key)

	select {
	case e.sem <- struct{}{}:
		return &Handle{registry: r, path: key, entry: e}, true
	default:
	}

	r.release(key, e)
	return nil, false
}

// Len количество путей с живыми ссылками
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func (r *Registry) acquire(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
}
