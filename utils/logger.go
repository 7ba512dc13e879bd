package utils

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *zap.SugaredLogger

// InitLogger sets up the process-wide logger: JSON output with rotation,
// errors split into their own file, everything mirrored to stdout.
func InitLogger() error {
	logRotation := &lumberjack.Logger{
		Filename:   filepath.Join("logs", "app.log"),
		MaxSize:    100, // megabytes
		MaxAge:     7,   // days
		MaxBackups: 5,
		Compress:   true,
		LocalTime:  true,
	}

	config := zap.NewProductionEncoderConfig()
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	config.StacktraceKey = "stacktrace"
	config.CallerKey = "caller"

	jsonEncoder := zapcore.NewJSONEncoder(config)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder,
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join("logs", "error.log"),
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			}),
			highPriority,
		),
		zapcore.NewCore(jsonEncoder,
			zapcore.AddSync(logRotation),
			lowPriority,
		),
		zapcore.NewCore(jsonEncoder,
			zapcore.AddSync(os.Stdout),
			zapcore.DebugLevel,
		),
	)

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	Logger = logger.Sugar()
	return nil
}

// RequestLogger logs every HTTP request with a generated request id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		Logger.Infow("Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Error logs an error with structured fields.
func Error(err error, msg string, fields ...interface{}) {
	Logger.Errorw(msg, append([]interface{}{"error", err}, fields...)...)
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
