package config

import "go.uber.org/fx"

// Path путь к файлу конфигурации, передается через fx.Supply
type Path string

// Out результаты загрузки для графа fx
type Out struct {
	fx.Out

	Config   *Config
	LogLevel string `name:"log_level"`
}

// Provide загружает конфигурацию и отдает уровень логирования для logging.Module
func Provide(path Path) (Out, error) {
	cfg, err := LoadConfig(string(path))
	if err != nil {
		return Out{}, err
	}
	return Out{Config: cfg, LogLevel: cfg.LogLevel}, nil
}

// Module fx модуль конфигурации
var Module = fx.Module("config",
	fx.Provide(Provide),
)
