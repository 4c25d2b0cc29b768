package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-dmm/dmm"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
metrics:
  listen: ":9101"
meters:
  - port: /dev/ttyUSB0
    baud: 115200
    backend: poll
    poll_interval_ms: 50
    lock_remote: false
    beeper: false
    cont_threshold: 30
    diod_threshold: 1.5
    rate: fast
    mode: res
    close_timeout_ms: 1000
    reply_timeout_ms: 500
  - port: /dev/ttyUSB1
`

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dmmctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9101", cfg.Metrics.Listen)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.MetricsPath())
	require.Len(t, cfg.Meters, 2)

	m := cfg.Meters[0]
	assert.Equal(t, "/dev/ttyUSB0", m.Port)
	require.NotNil(t, m.LockRemote)
	assert.False(t, *m.LockRemote)
	require.NotNil(t, m.ContThreshold)
	assert.Equal(t, uint32(30), *m.ContThreshold)

	assert.Nil(t, cfg.Meters[1].LockRemote)
	assert.Nil(t, cfg.Meters[1].DiodThreshold)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "meters:\n  - port: /dev/ttyUSB0\n    speed: 9600\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeFile(t, "meters: [\n"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Error(t, Validate(cfg), "a config without meters is invalid")
}

func TestValidate(t *testing.T) {
	u32 := func(v uint32) *uint32 { return &v }
	f32 := func(v float32) *float32 { return &v }

	cases := map[string]Config{
		"log level":     {Log: LogConfig{Level: "loud"}, Meters: []MeterConfig{{Port: "a"}}},
		"metrics path":  {Metrics: MetricsConfig{Path: "metrics"}, Meters: []MeterConfig{{Port: "a"}}},
		"empty port":    {Meters: []MeterConfig{{Port: " "}}},
		"duplicate":     {Meters: []MeterConfig{{Port: "a"}, {Port: "a"}}},
		"baud":          {Meters: []MeterConfig{{Port: "a", Baud: -1}}},
		"backend":       {Meters: []MeterConfig{{Port: "a", Backend: "usb"}}},
		"poll":          {Meters: []MeterConfig{{Port: "a", PollIntervalMs: -5}}},
		"cont":          {Meters: []MeterConfig{{Port: "a", ContThreshold: u32(2000)}}},
		"diod":          {Meters: []MeterConfig{{Port: "a", DiodThreshold: f32(4)}}},
		"rate":          {Meters: []MeterConfig{{Port: "a", Rate: "warp"}}},
		"mode":          {Meters: []MeterConfig{{Port: "a", Mode: "ohms"}}},
		"close timeout": {Meters: []MeterConfig{{Port: "a", CloseTimeoutMs: -1}}},
		"reply timeout": {Meters: []MeterConfig{{Port: "a", ReplyTimeoutMs: -1}}},
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, Validate(&cfg))
		})
	}

	require.Error(t, Validate(nil))
	require.NoError(t, Validate(&Config{Meters: []MeterConfig{{Port: "a"}, {Port: "b"}}}))
}

func TestMeterConfig_Options(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	cc, err := dmm.NewConnectionConfig(cfg.Meters[0].Port, cfg.Meters[0].Options()...)
	require.NoError(t, err)

	assert.Equal(t, 115200, cc.BaudRate())
	assert.Equal(t, transport.BackendPoll, cc.Backend())
	assert.Equal(t, 50*time.Millisecond, cc.PollInterval())
	assert.False(t, cc.LockRemote())
	assert.False(t, cc.Beeper())
	assert.Equal(t, uint32(30), cc.ContinuityThreshold())
	assert.InDelta(t, 1.5, cc.DiodeThreshold(), 1e-6)
	assert.Equal(t, scpi.RateFast, cc.Rate())
	assert.Equal(t, scpi.Res, cc.InitialMode())
	assert.Equal(t, time.Second, cc.CloseTimeout())
	assert.Equal(t, 500*time.Millisecond, cc.ReplyTimeout())

	// unset fields keep the defaults
	assert.Empty(t, cfg.Meters[1].Options())
}
