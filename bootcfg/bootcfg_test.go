package bootcfg

import "testing"

func TestDefaultValues(t *testing.T) {
	a := Default()
	if a.Init != "/initrd/bin/init" || a.Console != "/dev/console" {
		t.Fatalf("unexpected defaults: %+v", a)
	}
	if a.Memtest || a.MallocFsck {
		t.Fatalf("boolean flags should default false: %+v", a)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	a := Parse("memtest init=/sbin/init loglevel=7 kheap_size=1048576 timer_hz=1000 ttp_maxevents=128 malloc_fsck")
	want := Args{
		Memtest:      true,
		Init:         "/sbin/init",
		Console:      "/dev/console",
		LogLevel:     7,
		KheapSize:    1048576,
		MallocFsck:   true,
		TimerHz:      1000,
		TtpMaxEvents: 128,
	}
	if a != want {
		t.Fatalf("Parse = %+v, want %+v", a, want)
	}
}

func TestParseIgnoresUnknownTokens(t *testing.T) {
	a := Parse("bogus=1 console=/dev/ttyS0 another_bogus")
	if a.Console != "/dev/ttyS0" {
		t.Fatalf("known token not applied: %+v", a)
	}
}

func TestParseIgnoresMalformedNumbers(t *testing.T) {
	a := Parse("loglevel=notanumber")
	if a.LogLevel != Default().LogLevel {
		t.Fatalf("malformed value should leave default in place, got %d", a.LogLevel)
	}
}

func TestParseEmptyIsDefault(t *testing.T) {
	if Parse("") != Default() {
		t.Fatalf("Parse(\"\") should equal Default()")
	}
}
