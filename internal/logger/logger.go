package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with the fields this service logs by.
type Logger struct {
	*logrus.Logger
}

// New creates a JSON logger writing to stdout. Unknown levels fall back to info.
func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return NewWithOutput("panic", io.Discard)
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

func (l *Logger) WithSchedule(scheduleID, userID int64) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"schedule_id": scheduleID,
		"user_id":     userID,
	})
}

// Mutation logs a schedule state change in a fixed shape so that
// cancel / enqueue sequences can be followed per schedule.
func (l *Logger) Mutation(op string, scheduleID int64, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"mutation":    true,
		"operation":   op,
		"schedule_id": scheduleID,
		"success":     success,
		"details":     details,
	})

	if success {
		entry.Info("Schedule mutation applied")
	} else {
		entry.Warn("Schedule mutation failed")
	}
}
