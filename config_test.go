package memexpose_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose"
	"github.com/outofforest/memexpose/chardev"
)

func writeConfig(t *testing.T, requireT *require.Assertions, content string) string {
	path := filepath.Join(t.TempDir(), "memexpose.yaml")
	requireT.NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	requireT := require.New(t)

	config, err := memexpose.LoadConfig(writeConfig(t, requireT, `
mem:
  chardev:
    path: /run/memexpose/mem.sock
    server: true
  priority: 1
  regions:
    - name: ram
      start: 0x100000
      size: 0x200000
    - start: 0x400000
      size: 0x1000
      read_only: true
      non_volatile: true
      private: true
intr:
  chardev:
    path: /run/memexpose/intr.sock
monitor:
  listen: localhost:7070
`))
	requireT.NoError(err)
	requireT.Equal(memexpose.Config{
		Mem: memexpose.MemConfig{
			Chardev: chardev.Config{
				Path:   "/run/memexpose/mem.sock",
				Server: true,
			},
			Priority:   1,
			WindowSize: memexpose.DefaultWindowSize,
			Regions: []memexpose.RegionConfig{
				{
					Name:  "ram",
					Start: 0x100000,
					Size:  0x200000,
				},
				{
					Start:       0x400000,
					Size:        0x1000,
					ReadOnly:    true,
					NonVolatile: true,
					Private:     true,
				},
			},
		},
		Intr: memexpose.IntrConfig{
			Chardev: chardev.Config{
				Path: "/run/memexpose/intr.sock",
			},
			QueueSize: memexpose.DefaultIntrQueueSize,
		},
		Monitor: memexpose.MonitorConfig{
			Listen:         "localhost:7070",
			MaxMessageSize: memexpose.DefaultMonitorMaxMessageSize,
		},
	}, config)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	requireT := require.New(t)

	config, err := memexpose.LoadConfig(writeConfig(t, requireT, `
mem:
  chardev:
    path: mem.sock
  window_size: 0x10000
intr:
  chardev:
    path: intr.sock
  queue_size: 4
monitor:
  max_message_size: 1024
`))
	requireT.NoError(err)
	requireT.EqualValues(0x10000, config.Mem.WindowSize)
	requireT.Equal(4, config.Intr.QueueSize)
	requireT.EqualValues(1024, config.Monitor.MaxMessageSize)
	requireT.Empty(config.Monitor.Listen)
}

func TestLoadConfigErrors(t *testing.T) {
	requireT := require.New(t)

	_, err := memexpose.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	requireT.ErrorIs(err, os.ErrNotExist)

	_, err = memexpose.LoadConfig(writeConfig(t, requireT, "mem: ["))
	requireT.Error(err)
}

func TestConfigValidation(t *testing.T) {
	valid := func() memexpose.Config {
		config := memexpose.DefaultConfig()
		config.Mem.Chardev.Path = "mem.sock"
		config.Intr.Chardev.Path = "intr.sock"
		config.Mem.Regions = []memexpose.RegionConfig{{Start: 0x1000, Size: 0x1000}}
		return config
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(config *memexpose.Config)
	}{
		{
			name: "missing mem path",
			modify: func(config *memexpose.Config) {
				config.Mem.Chardev.Path = ""
			},
		},
		{
			name: "missing intr path",
			modify: func(config *memexpose.Config) {
				config.Intr.Chardev.Path = ""
			},
		},
		{
			name: "same paths",
			modify: func(config *memexpose.Config) {
				config.Intr.Chardev.Path = config.Mem.Chardev.Path
			},
		},
		{
			name: "zero window",
			modify: func(config *memexpose.Config) {
				config.Mem.WindowSize = 0
			},
		},
		{
			name: "zero queue",
			modify: func(config *memexpose.Config) {
				config.Intr.QueueSize = 0
			},
		},
		{
			name: "empty region",
			modify: func(config *memexpose.Config) {
				config.Mem.Regions[0].Size = 0
			},
		},
		{
			name: "overflowing region",
			modify: func(config *memexpose.Config) {
				config.Mem.Regions[0].Start = ^uint64(0)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := valid()
			tc.modify(&config)
			require.Error(t, config.Validate())
		})
	}
}
