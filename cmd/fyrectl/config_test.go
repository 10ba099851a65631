package main

import (
	"fyre-go/testutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	testutil.BaseSuite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) write(content string) string {
	path := filepath.Join(s.T().TempDir(), "fyrectl.toml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ConfigSuite) TestOverrides() {
	path := s.write(`
host = "render-1:7000"
read_timeout = "2s"
render_time = 0.5
steps = 25
step_interval = "40ms"

[log]
level = "debug"
file = "/tmp/fyrectl.log"
max_backups = 2
`)

	cfg, err := loadAppConfig(path)
	s.Require().NoError(err)

	def := defaultAppConfig()
	s.Equal("render-1:7000", cfg.Host)
	s.Equal(2*time.Second, cfg.Client.ReadTimeout)
	s.Equal(def.Client.DialTimeout, cfg.Client.DialTimeout)
	s.Equal(0.5, cfg.RenderTime)
	s.Equal(def.GUIStyle, cfg.GUIStyle)
	s.Equal(25, cfg.Steps)
	s.Equal(def.StepSize, cfg.StepSize)
	s.Equal(40*time.Millisecond, cfg.Interval)
	s.Equal("debug", cfg.Log.Level)
	s.Equal("/tmp/fyrectl.log", cfg.Log.File)
	s.Equal(2, cfg.Log.MaxBackups)
	s.Equal(def.Log.MaxSizeMB, cfg.Log.MaxSizeMB)
}

func (s *ConfigSuite) TestEmptyGuiStyle() {
	cfg, err := loadAppConfig(s.write(`gui_style = ""`))
	s.Require().NoError(err)
	s.Equal("", cfg.GUIStyle)
}

func (s *ConfigSuite) TestInvalid() {
	for _, content := range []string{
		`read_timeout = "soon"`,
		`dial_timeout = "-1s"`,
		`render_time = 0.0`,
		`steps = -3`,
		`host = `,
	} {
		_, err := loadAppConfig(s.write(content))
		s.Error(err, content)
	}

	_, err := loadAppConfig(filepath.Join(s.T().TempDir(), "missing.toml"))
	s.Error(err)
}

func (s *ConfigSuite) TestLogger() {
	s.T().Setenv(logLevelEnv, "")

	cfg := defaultAppConfig().Log
	cfg.File = filepath.Join(s.T().TempDir(), "fyrectl.log")

	var console testWriter
	log, closer, err := newLogger(cfg, false, &console)
	s.Require().NoError(err)

	log.Debug().Msg("hidden")
	log.Info().Msg("visible")
	s.Require().NoError(closer.Close())

	s.NotContains(console.String(), "hidden")
	s.Contains(console.String(), "visible")

	data, err := os.ReadFile(cfg.File)
	s.Require().NoError(err)
	s.Contains(string(data), "visible")
}

func (s *ConfigSuite) TestLoggerLevelFromEnv() {
	s.T().Setenv(logLevelEnv, "warn")

	var console testWriter
	log, _, err := newLogger(defaultAppConfig().Log, false, &console)
	s.Require().NoError(err)
	log.Info().Msg("quiet")
	s.Empty(console.String())

	log, _, err = newLogger(defaultAppConfig().Log, true, &console)
	s.Require().NoError(err)
	log.Trace().Msg("loud")
	s.Contains(console.String(), "loud")

	s.T().Setenv(logLevelEnv, "chatty")
	_, _, err = newLogger(defaultAppConfig().Log, false, &console)
	s.Error(err)
}
