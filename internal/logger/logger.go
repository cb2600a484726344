package logger

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const ctxLoggerKey = "logger"

var std = New("info")

// New builds the JSON logger used across the service.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func SetDefault(l *logrus.Logger) {
	std = l
}

func Get() *logrus.Logger {
	return std
}

func LogError(l *logrus.Logger, module string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   module,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	l.WithFields(fields).Error(err.Error())
}

// WithRequest stores a request-scoped entry on the fiber context.
func WithRequest(c *fiber.Ctx, entry *logrus.Entry) {
	c.Locals(ctxLoggerKey, entry)
}

// FromFiber returns the request-scoped entry, or the default logger when none was set.
func FromFiber(c *fiber.Ctx) *logrus.Entry {
	if entry, ok := c.Locals(ctxLoggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(std)
}
