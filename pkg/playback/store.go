package playback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config настройки хранилища истории
type Config struct {
	Path string `yaml:"path"` // путь к файлу SQLite
	// Retention сколько хранить записи; 0 хранит всегда
	Retention time.Duration `yaml:"-"`
}

// Record строка таблицы истории
type Record struct {
	ID          uint      `gorm:"primarykey"`
	SessionID   string    `gorm:"index;size:64"`
	Group       string    `gorm:"column:transmitter_group;index;size:32"`
	UnitID      string    `gorm:"index;size:128"`
	Kind        string    `gorm:"size:16"`
	Started     time.Time `gorm:"index"`
	Finished    time.Time
	Interrupted bool
	Restarted   bool
}

// TableName имя таблицы для gorm
func (Record) TableName() string {
	return "playback_history"
}

func (r Record) entry() Entry {
	return Entry{
		SessionID:   r.SessionID,
		Group:       r.Group,
		UnitID:      r.UnitID,
		Kind:        r.Kind,
		Started:     r.Started,
		Finished:    r.Finished,
		Interrupted: r.Interrupted,
		Restarted:   r.Restarted,
	}
}

// Store хранилище истории на SQLite
type Store struct {
	db     *gorm.DB
	config Config
	logger *zap.Logger
}

// Open открывает (и при необходимости создает) базу истории
func Open(config Config, log *zap.Logger) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("не задан путь к базе истории")
	}
	if log == nil {
		log = zap.NewNop()
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы истории: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ошибка настройки SQLite: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ошибка миграции схемы истории: %w", err)
	}

	log.Info("База истории воспроизведения открыта", zap.String("path", config.Path))
	return &Store{db: db, config: config, logger: log}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Record реализует Recorder
func (s *Store) Record(ctx context.Context, entry Entry) error {
	rec := Record{
		SessionID:   entry.SessionID,
		Group:       entry.Group,
		UnitID:      entry.UnitID,
		Kind:        entry.Kind,
		Started:     entry.Started,
		Finished:    entry.Finished,
		Interrupted: entry.Interrupted,
		Restarted:   entry.Restarted,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("ошибка записи истории: %w", err)
	}
	return nil
}

// Recent последние limit записей группы, новые первыми
func (s *Store) Recent(ctx context.Context, group string, limit int) ([]Entry, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("transmitter_group = ?", group).
		Order("started DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = r.entry()
	}
	return entries, nil
}

// LastPlayed время окончания последнего воспроизведения блока.
// ok=false если блок не воспроизводился.
func (s *Store) LastPlayed(ctx context.Context, unitID string) (time.Time, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("unit_id = ? AND interrupted = ?", unitID, false).
		Order("finished DESC").
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if rec.ID == 0 {
		return time.Time{}, false, nil
	}
	return rec.Finished, true, nil
}

// Purge удаляет записи старше before, возвращает число удаленных
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finished < ?", before).Delete(&Record{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Удалены старые записи истории", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Close закрывает базу
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
