package configuration

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

type fields map[string]*structpb.Value

func (f fields) str(key string, dst *string) error {
	v, ok := f[key]
	if !ok {
		return nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return fmt.Errorf("%s: want a string", key)
	}
	*dst = s.StringValue
	return nil
}

func (f fields) boolean(key string, dst *bool) error {
	v, ok := f[key]
	if !ok {
		return nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return fmt.Errorf("%s: want a bool", key)
	}
	*dst = b.BoolValue
	return nil
}

func (f fields) number(key string) (float64, bool, error) {
	v, ok := f[key]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false, fmt.Errorf("%s: want a number", key)
	}
	if n.NumberValue != float64(int64(n.NumberValue)) || n.NumberValue < 0 {
		return 0, false, fmt.Errorf("%s: want a non-negative integer, got %v", key, n.NumberValue)
	}
	return n.NumberValue, true, nil
}

func (f fields) integer(key string, dst *int) error {
	n, ok, err := f.number(key)
	if ok {
		*dst = int(n)
	}
	return err
}

func (f fields) unsigned(key string, dst *uint) error {
	n, ok, err := f.number(key)
	if ok {
		*dst = uint(n)
	}
	return err
}

func (f fields) strings(key string, dst *[]string) error {
	v, ok := f[key]
	if !ok {
		return nil
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return fmt.Errorf("%s: want a list", key)
	}
	out := make([]string, 0, len(l.ListValue.GetValues()))
	for i, item := range l.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return fmt.Errorf("%s[%d]: want a string", key, i)
		}
		out = append(out, s.StringValue)
	}
	*dst = out
	return nil
}

func (f fields) object(key string) (fields, error) {
	v, ok := f[key]
	if !ok {
		return fields{}, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("%s: want an object", key)
	}
	return fields(s.StructValue.GetFields()), nil
}

// FromStruct overlays a schema-less document on Default.
func FromStruct(st *structpb.Struct) (*Config, error) {
	c := Default()
	f := fields(st.GetFields())

	archive, err := f.object("archive")
	if err != nil {
		return nil, err
	}
	stats, err := f.object("malloc_stats")
	if err != nil {
		return nil, err
	}
	bt, err := f.object("backtrace")
	if err != nil {
		return nil, err
	}
	var compression string
	for _, decode := range []func() error{
		func() error { return f.str("sentinel_log", &c.SentinelLog) },
		func() error { return f.str("log_file", &c.LogFile) },
		func() error { return f.str("verbose_log_prefix", &c.VerboseLogPrefix) },
		func() error { return f.str("process_name", &c.ProcessName) },
		func() error { return f.boolean("verbose_crash_logging", &c.VerboseCrashLogging) },
		func() error { return f.boolean("loop_in_crash_handler", &c.LoopInCrashHandler) },
		func() error { return f.strings("trapped_signals", &c.TrappedSignals) },
		func() error { return f.integer("stack_words", &c.StackWords) },
		func() error { return archive.str("dir", &c.Archive.Dir) },
		func() error { return archive.str("compression", &compression) },
		func() error { return archive.unsigned("max_disk_usage_prct", &c.Archive.MaxDiskUsagePrct) },
		func() error { return stats.str("file", &c.MallocStats.File) },
		func() error { return stats.integer("interval_sec", &c.MallocStats.IntervalSec) },
		func() error { return bt.boolean("enabled", &c.Backtrace.Enabled) },
		func() error { return bt.str("map_path", &c.Backtrace.MapPath) },
	} {
		if err := decode(); err != nil {
			return nil, err
		}
	}
	if compression != "" {
		c.Archive.Compression = Compression(compression)
	}
	return c, nil
}
