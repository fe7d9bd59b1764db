package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Workers int `mapstructure:"workers"`
	Signal  struct {
		Addr    string        `mapstructure:"addr"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"signal"`
	WebRTC struct {
		PortRange []uint16 `mapstructure:"portrange"`
	} `mapstructure:"webrtc"`
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	return file
}

func TestLoad(t *testing.T) {
	file := writeFile(t, `
workers = 4

[signal]
timeout = "3s"

[webrtc]
portrange = [50000, 60000]
`)
	v := viper.New()
	v.SetDefault("signal.addr", ":8080")

	var c sample
	found, err := Load(v, file, &c)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, ":8080", c.Signal.Addr, "defaults fill keys the file leaves out")
	assert.Equal(t, 3*time.Second, c.Signal.Timeout)
	assert.Equal(t, []uint16{50000, 60000}, c.WebRTC.PortRange)
}

func TestLoadWithoutFile(t *testing.T) {
	v := viper.New()
	v.SetDefault("signal.addr", ":8080")
	v.SetDefault("workers", 16)

	var c sample
	found, err := Load(v, filepath.Join(t.TempDir(), "missing.toml"), &c)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 16, c.Workers)
	assert.Equal(t, ":8080", c.Signal.Addr)
}

func TestLoadBadFile(t *testing.T) {
	var c sample
	_, err := Load(viper.New(), writeFile(t, "workers = ["), &c)
	assert.Error(t, err)
}

func TestCheckICEPortRange(t *testing.T) {
	tests := []struct {
		name string
		r    []uint16
		ok   bool
	}{
		{"unset", nil, true},
		{"wide enough", []uint16{50000, 50100}, true},
		{"too narrow", []uint16{50000, 50099}, false},
		{"reversed", []uint16{60000, 50000}, false},
		{"one value", []uint16{50000}, false},
		{"three values", []uint16{1, 2, 3}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := CheckICEPortRange(tt.r)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrICEPortRange)
		})
	}
}

func TestListenAddr(t *testing.T) {
	t.Setenv("PORT", "")
	assert.Equal(t, ":8080", ListenAddr("", ":8080"))

	t.Setenv("PORT", "9000")
	assert.Equal(t, ":9000", ListenAddr("", ":8080"))
	assert.Equal(t, "127.0.0.1:7000", ListenAddr("127.0.0.1:7000", ":8080"), "the flag wins")

	t.Setenv("PORT", ":9001")
	assert.Equal(t, ":9001", ListenAddr("", ":8080"))
}
