package report

import (
	"log"
	"time"
)

// LogBasedReporter writes every pair as one log line.
type LogBasedReporter struct {
	*log.Logger
}

var _ Sink = (*LogBasedReporter)(nil)

func (l *LogBasedReporter) ReportError(key string, value error) error {
	l.Printf("%s = error(%v)", key, value)
	return nil
}

func (l *LogBasedReporter) ReportInt(key string, value int64) error {
	l.Printf("%s = %d", key, value)
	return nil
}

func (l *LogBasedReporter) ReportString(key string, value string) error {
	l.Printf("%s = %q", key, value)
	return nil
}

func (l *LogBasedReporter) ReportBool(key string, value bool) error {
	l.Printf("%s = %t", key, value)
	return nil
}

func (l *LogBasedReporter) ReportDuration(key string, value time.Duration) error {
	l.Printf("%s = %v", key, value)
	return nil
}
