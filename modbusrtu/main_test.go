package modbusrtu

import (
	"os"
	"testing"

	"go.uber.org/goleak"

	"github.com/arloliu/go-hwc/logger"
)

func TestMain(m *testing.M) {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logger.SetLevel(logger.DebugLevel)
	case "warn":
		logger.SetLevel(logger.WarnLevel)
	case "error":
		logger.SetLevel(logger.ErrorLevel)
	default:
		logger.SetLevel(logger.InfoLevel)
	}

	goleak.VerifyTestMain(m)
}
