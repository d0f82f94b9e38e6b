package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log  *zap.Logger
	once sync.Once
)

// InitLogger 初始化全局日志记录器（控制台 + 滚动JSON文件）
func InitLogger(logDir string, debug bool) error {
	var initErr error
	once.Do(func() {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = err
			return
		}
		Log = zap.New(newCore(logDir, debug), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		zap.ReplaceGlobals(Log)
	})
	return initErr
}

func newCore(logDir string, debug bool) zapcore.Core {
	// 控制台：人类可读 + 颜色
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	consoleEncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig),
		zapcore.AddSync(os.Stdout),
		levelFor(debug),
	)

	// 文件：JSON + 滚动
	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, "app.json"),
			MaxSize:    10, // MB
			MaxBackups: 30,
			MaxAge:     30, // 天
			Compress:   true,
		}),
		zapcore.InfoLevel,
	)

	return zapcore.NewTee(consoleCore, fileCore)
}

func levelFor(debug bool) zapcore.LevelEnabler {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// NewModuleLogger 获取带 module 字段的 logger；未初始化时返回空 logger
func NewModuleLogger(moduleName string) *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log.With(zap.String("module", moduleName))
}

// Sync 刷新缓冲区，退出前调用
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// OrNop 组件构造时使用：nil 时返回空 logger
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
