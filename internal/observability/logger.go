package observability

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ginWriter forwards gin's own debug and error output into zerolog.
type ginWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w ginWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.logger.WithLevel(w.level).Msg(msg)
	}
	return len(p), nil
}

// ConfigureGin puts gin in release mode and routes its writers through logger.
func ConfigureGin(logger zerolog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = ginWriter{logger: logger, level: zerolog.DebugLevel}
	gin.DefaultErrorWriter = ginWriter{logger: logger, level: zerolog.ErrorLevel}
}
