package app

import (
	"os"
	"syscall"
	"testing"
	"time"

	"relaybot/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.AdminID = 42
	cfg.Dispatch.HandlerTimeout = "5s"
	cfg.Texts.Welcome = "hi"
	cfg.Digest.Enabled = true
	cfg.Digest.Timezone = "UTC"
	cfg.ApplyDefaults()
	return cfg
}

func TestMappingCarriesAdminID(t *testing.T) {
	cfg := testConfig()

	if got := routerConfig(cfg); got.AdminID != 42 || got.Welcome != "hi" {
		t.Fatalf("router config: %+v", got)
	}
	dg := digestConfig(cfg)
	if dg.AdminID != 42 || !dg.Enabled || dg.Schedule != config.DefaultDigestSchedule || dg.Timezone != "UTC" {
		t.Fatalf("digest config: %+v", dg)
	}
	if dg.Timeout != digestSendTimeout {
		t.Fatalf("digest timeout: %v", dg.Timeout)
	}
}

func TestDispatchConfigParsesTimeout(t *testing.T) {
	d := dispatchConfig(testConfig())
	if d.HandlerTimeout != 5*time.Second {
		t.Fatalf("handler timeout: %v", d.HandlerTimeout)
	}
	if d.Workers != 4 || d.QueueSize != 256 {
		t.Fatalf("dispatch defaults: %+v", d)
	}
}

func TestBroadcastAndLogMapping(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Telegram.Enabled = true
	cfg.Logging.Telegram.MinLevel = "error"

	b := broadcastConfig(cfg)
	if b.Workers != cfg.Broadcast.Workers || b.RatePerSec != cfg.Broadcast.RatePerSec {
		t.Fatalf("broadcast config: %+v", b)
	}
	l := logConfig(cfg)
	if !l.Telegram.Enabled || l.Telegram.MinLevel != "error" || l.Level != "info" {
		t.Fatalf("log config: %+v", l)
	}
}

func TestReasonForSignal(t *testing.T) {
	cases := map[os.Signal]StopReason{
		os.Interrupt:    StopSIGINT,
		syscall.SIGTERM: StopSIGTERM,
		syscall.SIGHUP:  StopUnknown,
	}
	for sig, want := range cases {
		if got := ReasonForSignal(sig); got != want {
			t.Errorf("%v: got %q want %q", sig, got, want)
		}
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	var a App
	if err := a.Stop(t.Context(), StopUnknown); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
