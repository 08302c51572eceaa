package control

import (
	"math"
	"testing"
)

func TestCurrentControllerOutputBounds(t *testing.T) {
	cfg := DefaultCurrentConfig()
	c := NewCurrentController(cfg)

	for i := 0; i < 500; i++ {
		out := c.Update(100, 0, 0.001, nil)
		if out < cfg.MinDuty || out > cfg.MaxDuty {
			t.Fatalf("step %d: duty %v outside [%v, %v]", i, out, cfg.MinDuty, cfg.MaxDuty)
		}
	}
	if !c.State().IsSaturated {
		t.Error("controller not saturated under extreme error")
	}
}

func TestCurrentControllerAntiWindup(t *testing.T) {
	cfg := DefaultCurrentConfig()
	cfg.UseFeedforward = false

	// Prolonged saturation with a persistent 5 A error. Without anti-windup
	// the integral would accumulate ki*err*t = 1000*5*5 = 25000; the
	// feedback bleed holds it near its equilibrium ki*err/gain instead.
	c := NewCurrentController(cfg)
	for i := 0; i < 5000; i++ {
		c.Update(5, 0, 0.001, nil)
	}
	if integ := c.State().IntegralTerm; integ > 10000 {
		t.Errorf("integral wound up to %v despite anti-windup", integ)
	}

	// The same drive without anti-windup winds up far beyond that.
	cfg.UseAntiWindup = false
	open := NewCurrentController(cfg)
	for i := 0; i < 5000; i++ {
		open.Update(5, 0, 0.001, nil)
	}
	if integ := open.State().IntegralTerm; integ < 20000 {
		t.Errorf("unprotected integral %v, expected heavy windup", integ)
	}
}

func TestCurrentControllerFeedforward(t *testing.T) {
	cfg := DefaultCurrentConfig()
	cfg.Kp = 0
	cfg.Ki = 0
	cfg.MinDuty = 0
	cfg.MaxDuty = 1
	c := NewCurrentController(cfg)

	ff := &Feedforward{
		Resistance: 0.08,
		Inductance: 0, // isolate the resistive + EMF terms
		BackEMF:    10.0,
		BusVoltage: 48.0,
	}
	out := c.Update(20, 20, 0.001, ff)

	// With zero error and pure feedforward: gain * (R*I + EMF) / Vdc.
	want := cfg.FeedforwardGain * (0.08*20 + 10.0) / 48.0
	if math.Abs(out-want) > 1e-9 {
		t.Errorf("feedforward output %v, want %v", out, want)
	}
}

func TestTuneForMotor(t *testing.T) {
	cfg := DefaultCurrentConfig()
	cfg.BandwidthHz = 1000
	c := NewCurrentController(cfg)

	c.TuneForMotor(0.08, 0.0015)

	omegaC := 2 * math.Pi * 1000.0
	if got, want := c.Config().Kp, 0.0015*omegaC; math.Abs(got-want) > 1e-9 {
		t.Errorf("tuned kp = %v, want %v", got, want)
	}
	if got, want := c.Config().Ki, 0.08*omegaC; math.Abs(got-want) > 1e-9 {
		t.Errorf("tuned ki = %v, want %v", got, want)
	}
}

func TestCurrentControllerRMSError(t *testing.T) {
	c := NewCurrentController(DefaultCurrentConfig())

	if c.RMSError() != 0 {
		t.Error("fresh controller reports nonzero RMS error")
	}

	// Constant error of 2 A: RMS is exactly 2 regardless of window fill.
	for i := 0; i < 250; i++ {
		c.Update(2, 0, 0.001, nil)
	}
	if got := c.RMSError(); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("RMS error %v, want 2.0", got)
	}
}

func TestCurrentControllerSetLimits(t *testing.T) {
	c := NewCurrentController(DefaultCurrentConfig())
	c.SetLimits(-0.5, 1.7)
	cfg := c.Config()
	if cfg.MinDuty != 0 || cfg.MaxDuty != 1 {
		t.Errorf("limits not clamped to [0,1]: %v, %v", cfg.MinDuty, cfg.MaxDuty)
	}
}

func TestCascadeSpeedModeDispatch(t *testing.T) {
	speedCfg := PIDConfig{
		Kp: 0.01, Ki: 0.001, Kd: 0,
		MaxOutput: 15, MinOutput: -15, MaxIntegral: 7.5,
	}
	const kt = 0.169
	c := NewCascade(speedCfg, DefaultCurrentConfig(), kt)

	if c.Mode() != ModeSpeed {
		t.Fatalf("default mode %v, want speed", c.Mode())
	}

	// Step target 0 -> 3000 RPM: the torque command, and therefore the
	// current reference, must be positive while the speed error is positive.
	c.Update(Targets{SpeedRPM: 3000}, 0, 0, 0.001, nil)
	torqueCmd := c.Speed().Update(3000, 0, 0.001)
	if torqueCmd/kt <= 0 {
		t.Errorf("current reference sign %v does not match positive speed error", torqueCmd/kt)
	}
}

func TestCascadeCurrentMode(t *testing.T) {
	c := NewCascade(PIDConfig{Kp: 1, MaxOutput: 15, MinOutput: -15, MaxIntegral: 10},
		DefaultCurrentConfig(), 0.169)

	if err := c.SetMode(ModeCurrent); err != nil {
		t.Fatal(err)
	}
	if ref := c.CurrentReference(Targets{CurrentA: 12}); ref != 12 {
		t.Errorf("current mode reference %v, want 12", ref)
	}
}

func TestCascadeTorqueModeConversion(t *testing.T) {
	const kt = 0.169
	c := NewCascade(PIDConfig{Kp: 1, MaxOutput: 15, MinOutput: -15, MaxIntegral: 10},
		DefaultCurrentConfig(), kt)

	if err := c.SetMode(ModeTorque); err != nil {
		t.Fatal(err)
	}
	want := 5.0 / kt
	if ref := c.CurrentReference(Targets{TorqueNm: 5.0}); math.Abs(ref-want) > 1e-12 {
		t.Errorf("torque mode reference %v, want %v", ref, want)
	}
}

func TestCascadeRejectsInvalidMode(t *testing.T) {
	c := NewCascade(PIDConfig{MaxOutput: 1, MinOutput: -1, MaxIntegral: 1},
		DefaultCurrentConfig(), 1)

	if err := c.SetMode(Mode("voltage")); err == nil {
		t.Error("SetMode accepted non-cascade mode")
	}
	if _, err := ParseMode("duty_cycle"); err == nil {
		t.Error("ParseMode accepted non-cascade mode")
	}
	if _, err := ParseMode("torque"); err != nil {
		t.Errorf("ParseMode rejected torque: %v", err)
	}
}
