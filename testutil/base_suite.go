package testutil

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

type BaseSuite struct {
	suite.Suite
}

func (s *BaseSuite) StrEnv(env string, defaultValue string) string {
	strValue := os.Getenv(env)
	if strValue == "" {
		return defaultValue
	}

	return strValue
}

func (s *BaseSuite) IntEnv(env string, defaultValue int) int {
	strValue := os.Getenv(env)
	if strValue == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(strValue)
	s.Require().NoError(err)
	return i
}

func (s *BaseSuite) NowUnixMicro() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// Logger writes through the current test's log, at debug level unless
// FYRE_TEST_LOG_LEVEL says otherwise.
func (s *BaseSuite) Logger() *zerolog.Logger {
	level, err := zerolog.ParseLevel(s.StrEnv("FYRE_TEST_LOG_LEVEL", "debug"))
	s.Require().NoError(err)

	l := zerolog.New(zerolog.NewTestWriter(s.T())).Level(level).With().Timestamp().Logger()
	return &l
}
