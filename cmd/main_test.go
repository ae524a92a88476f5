package cmd

import (
	"os"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

func TestMain(m *testing.M) {
	logConfig := config.NewDefaultConfig().Logger
	logConfig.Level = "debug"
	logConfig.ServiceName = "test-suite"
	logConfig.Format = "console"
	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()
	os.Exit(exitCode)
}
