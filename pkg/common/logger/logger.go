package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter is Init for processes whose stdout is reserved, such as
// the feature worker which speaks its result protocol on stdout.
func InitWithWriter(w io.Writer) {
	Log = logrus.New()
	Log.SetOutput(w)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// WithSubmission tags an entry with the identifiers every evaluation log line carries.
func WithSubmission(evaluationID, problem, user string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"evaluation_id": evaluationID,
		"problem":       problem,
		"user":          user,
	})
}
