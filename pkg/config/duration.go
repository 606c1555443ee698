package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField разбирает длительность из строки YAML.
// Пустая строка дает ноль.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректная длительность %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: длительность не может быть отрицательной", path)
	}
	return d, nil
}

// ParseDurationOrDefault как ParseDurationField, но ноль заменяется на def
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durations разбирает несколько полей подряд и запоминает первую ошибку
type durations struct {
	err error
}

func (d *durations) parse(path, raw string, def time.Duration) time.Duration {
	if d.err != nil {
		return 0
	}
	v, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		d.err = err
	}
	return v
}
