package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rtspc/internal/app/apps"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrCfg(t *testing.T) {
	c := NewAddrCfg("127.0.0.1", 9000)
	client := &apps.ClientApp{}
	require.NoError(t, c.ApplyClientApp(client))
	require.Equal(t, "127.0.0.1:9000", client.ServerAddr)

	server := &apps.ServerApp{}
	require.NoError(t, c.ApplyServerApp(server))
	require.Equal(t, "127.0.0.1:9000", server.ListenAddr)

	assert.Equal(t, "[::1]:554", NewAddrCfg("::1", 554).addr())
	assert.Equal(t, "localhost:8554", AddrFromEnv().addr())
}

func TestTuningCfg(t *testing.T) {
	client := &apps.ClientApp{}
	require.NoError(t, ClientTuningCfg{
		Media:           "movie.Mjpeg",
		Duration:        time.Second,
		PlaybackRate:    10 * time.Millisecond,
		BufferThreshold: 8,
	}.ApplyClientApp(client))
	require.Equal(t, "movie.Mjpeg", client.Media)
	require.Equal(t, time.Second, client.Duration)
	require.Equal(t, 10*time.Millisecond, client.PlaybackRate)
	require.Equal(t, 8, client.BufferThreshold)

	server := &apps.ServerApp{}
	require.NoError(t, ServerTuningCfg{
		MediaDir:      "/tmp",
		FrameInterval: 20 * time.Millisecond,
		DropRate:      0.1,
	}.ApplyServerApp(server))
	require.Equal(t, "/tmp", server.MediaDir)
	require.Equal(t, 20*time.Millisecond, server.FrameInterval)
	require.Equal(t, 0.1, server.DropRate)
}

func TestFromEnv(t *testing.T) {
	client, err := apps.NewClientApp(AddrFromEnv(), ClientTuningFromEnv())
	require.NoError(t, err)
	require.Equal(t, "localhost:8554", client.ServerAddr)
	require.Equal(t, 40*time.Millisecond, client.PlaybackRate)

	server, err := apps.NewServerApp(AddrFromEnv(), ServerTuningFromEnv())
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, server.FrameInterval)
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileCfg(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "rtspc.toml",
			content: `log_level = "debug"

[client]
media = "other.Mjpeg"
playback_rate = "20ms"

[server]
frame_interval = "10ms"
reorder_rate = 0.5
`,
		},
		{
			name: "rtspc.yaml",
			content: `log_level: debug
client:
  media: other.Mjpeg
  playback_rate: 20ms
server:
  frame_interval: 10ms
  reorder_rate: 0.5
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadFileCfg(writeFile(t, tt.name, tt.content))
			require.NoError(t, err)
			require.Equal(t, "debug", c.LogLevel())

			client := &apps.ClientApp{Media: "movie.Mjpeg", PlaybackRate: 40 * time.Millisecond, BufferThreshold: 120}
			require.NoError(t, c.ApplyClientApp(client))
			require.Equal(t, "other.Mjpeg", client.Media)
			require.Equal(t, 20*time.Millisecond, client.PlaybackRate)
			require.Equal(t, 120, client.BufferThreshold)

			server := &apps.ServerApp{MediaDir: "media", FrameInterval: 50 * time.Millisecond}
			require.NoError(t, c.ApplyServerApp(server))
			require.Equal(t, "media", server.MediaDir)
			require.Equal(t, 10*time.Millisecond, server.FrameInterval)
			require.Equal(t, 0.5, server.ReorderRate)
		})
	}
}

func TestLoadFileCfgErrors(t *testing.T) {
	_, err := LoadFileCfg(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = LoadFileCfg(writeFile(t, "rtspc.json", "{}"))
	require.Error(t, err)

	_, err = LoadFileCfg(writeFile(t, "rtspc.toml", `[client]
playback_rate = "fast"
`))
	require.Error(t, err)
}
