package dacsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ КОНФИГУРАЦИИ СИМУЛЯТОРА ===

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		wantErr     bool
		description string
	}{
		{name: "По умолчанию", modify: func(c *Config) {}, description: "значения по умолчанию корректны"},
		{name: "Пять каналов", modify: func(c *Config) { c.ChannelCount = 5 }, wantErr: true, description: "выходов не больше четырех"},
		{name: "Порты за пределом", modify: func(c *Config) { c.FirstChannelPort = 65530 }, wantErr: true, description: "последний порт больше 65535"},
		{name: "Буфер больше емкости", modify: func(c *Config) { c.MinBufferSize = BufferCapacity + 1 }, wantErr: true, description: "минимум не больше емкости"},
		{name: "Адрес ретрансляции", modify: func(c *Config) { c.RebroadcastAddress = "239.0.0.1:5000" }, description: "корректный адрес ретрансляции"},
		{name: "Адрес без порта", modify: func(c *Config) { c.RebroadcastAddress = "239.0.0.1" }, wantErr: true, description: "адрес ретрансляции требует порт"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Тест конфигурации: %s", tt.description)
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Channels(t *testing.T) {
	c := Config{ChannelCount: 3, FirstChannelPort: 20000}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	channels := c.Channels()
	require.Len(t, channels, 3)
	assert.Equal(t, ChannelConfig{Number: 1, DataPort: 20000, ControlPort: 20001}, channels[0])
	assert.Equal(t, ChannelConfig{Number: 3, DataPort: 20004, ControlPort: 20005}, channels[2])
	assert.Equal(t, "0.0.0.0:20002", c.listen(channels[1].DataPort))
}
