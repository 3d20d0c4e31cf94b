// Package report collects facts about one sentinel run, such as the signal
// that was caught or where the crash log went, and emits them at exit.
package report

import (
	"context"
	"sort"
	"sync"
	"time"
)

type reportKey struct{}

var (
	defaultReport = New()

	R = GetReport
)

// WithReport attaches report to Context.
func WithReport(ctx context.Context, r *Report) context.Context {
	return context.WithValue(ctx, reportKey{}, r)
}

// GetReport returns a Report attached to Context. Or returns a global one.
func GetReport(ctx context.Context) *Report {
	if v, ok := ctx.Value(reportKey{}).(*Report); ok {
		return v
	}
	return defaultReport
}

// Report is a set of typed key-value pairs. It is safe for concurrent use
// but must not be touched while a crash is being captured.
type Report struct {
	mu sync.Mutex
	m  map[string]any
}

func New() *Report {
	return &Report{
		m: make(map[string]any),
	}
}

// AddInt adds int64 value to report
func (r *Report) AddInt(key string, v int64) {
	r.add(key, v)
}

// AddString adds string value to report
func (r *Report) AddString(key string, v string) {
	r.add(key, v)
}

// AddBool adds a flag to the report.
func (r *Report) AddBool(key string, v bool) {
	r.add(key, v)
}

// AddError records err. A nil error is not recorded.
func (r *Report) AddError(key string, err error) {
	if err == nil {
		return
	}
	r.add(key, err)
}

func (r *Report) AddDuration(key string, value time.Duration) {
	r.add(key, value)
}

func (r *Report) add(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = v
}

// Get returns the value stored under key.
func (r *Report) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[key]
	return v, ok
}

// Report sends every pair to sink in key order.
func (r *Report) Report(sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.m))
	for key := range r.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var err error
		switch value := r.m[key].(type) {
		case int64:
			err = sink.ReportInt(key, value)
		case string:
			err = sink.ReportString(key, value)
		case bool:
			err = sink.ReportBool(key, value)
		case error:
			err = sink.ReportError(key, value)
		case time.Duration:
			err = sink.ReportDuration(key, value)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

type Sink interface {
	ReportError(key string, value error) error
	ReportInt(key string, value int64) error
	ReportString(key string, value string) error
	ReportBool(key string, value bool) error
	ReportDuration(key string, value time.Duration) error
}
