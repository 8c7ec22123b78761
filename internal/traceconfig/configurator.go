// Package traceconfig implements the Trace Configurator (spec section 4.2):
// it programs the Cortex-M debug block for asynchronous SWO and owns the
// DWT_CTRL shadow that the exception-tracing and profiling toggles mutate.
package traceconfig

import (
	"fmt"
	"math"

	"github.com/coretrace/swotrace/internal/dwt"
	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/regmap"
	"github.com/coretrace/swotrace/internal/traceerr"
)

// MaxBaud is the invariant from spec section 3: SWO baud may not exceed
// 2,000,000 Hz.
const MaxBaud = 2_000_000

// Config is the immutable per-session trace configuration (spec section 3).
type Config struct {
	XtalMHz   float64
	BaudHz    int
	Exception bool
	Profiling bool
	Reload    uint8 // 0-15, only meaningful when Profiling is set
}

// Validate checks the invariants from spec section 3.
func (c Config) Validate() error {
	if c.BaudHz <= 0 || c.BaudHz > MaxBaud {
		return traceerr.New("traceconfig.Validate", traceerr.KindConfigInvalid,
			fmt.Errorf("baud %d exceeds max %d", c.BaudHz, MaxBaud))
	}
	if c.Reload > 15 {
		return traceerr.New("traceconfig.Validate", traceerr.KindConfigInvalid,
			fmt.Errorf("reload %d exceeds 15", c.Reload))
	}
	return nil
}

// Divisor computes the TPIU Async Clock Prescaler value: floor(xtal_Hz /
// baud - 0.5) (spec section 3).
func (c Config) Divisor() uint32 {
	xtalHz := c.XtalMHz * 1_000_000
	d := math.Floor(xtalHz/float64(c.BaudHz) - 0.5)
	if d < 0 {
		d = 0
	}
	return uint32(d)
}

// Configurator programs the target debug infrastructure and owns the
// DWT_CTRL shadow (spec section 3: "the process-wide source of truth for
// the register").
type Configurator struct {
	shadow dwt.Shadow
}

// New returns a Configurator with an all-zero DWT_CTRL shadow.
func New() *Configurator { return &Configurator{} }

// Shadow returns the DWT_CTRL shadow mirror, so internal/dwt's Manager and
// internal/session can inspect it without a second source of truth.
func (c *Configurator) Shadow() *dwt.Shadow { return &c.shadow }

// Setup programs the fixed register sequence for asynchronous SWO (spec
// section 4.2 and the authoritative sequence in section 6). It is
// idempotent: the sequence is a fixed set of writes with no
// state-dependent branching, so calling it twice leaves the target in the
// same configuration. All writes are synchronous over the probe and must
// complete before SWO is enabled by the caller (spec section 4.2: "all
// debug-block writes must complete before SWO is enabled").
func (c *Configurator) Setup(p probe.Probe, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	writes := []struct {
		addr uint32
		val  uint32
	}{
		{regmap.DEMCR, regmap.DEMCRTRCENA},
		{regmap.TPIUSel, regmap.TPIUSelAsync},
		{regmap.TPIUACPR, cfg.Divisor()},
		{regmap.TPIUSPPR, regmap.TPIUSPPRAsync},
		{regmap.TPIUFFCR, regmap.TPIUFFCROff},
		{regmap.DBGMCU, regmap.DBGMCUValue},
		{regmap.ITMLAR, regmap.ITMUnlockKey},
		{regmap.ITMTCR, regmap.ITMTCRValue},
		{regmap.ITMTER, regmap.ITMTERAllOn},
		{regmap.ITMTER + 0x04, 0},
		{regmap.ITMTER + 0x08, 0},
		{regmap.ITMTER + 0x0C, 0},
		{regmap.ITMTER + 0x10, 0},
		{regmap.ITMTER + 0x14, 0},
		{regmap.ITMTER + 0x18, 0},
		{regmap.ITMTER + 0x1C, 0},
	}
	for _, w := range writes {
		if err := p.WriteMem32(w.addr, w.val); err != nil {
			return traceerr.New("traceconfig.Setup", traceerr.KindTransportError, err)
		}
	}

	for _, addr := range regmap.FPBComparators {
		if err := p.WriteMem32(addr, 0); err != nil {
			return traceerr.New("traceconfig.Setup(FPB)", traceerr.KindTransportError, err)
		}
	}

	for n := 0; n < regmap.NumDWTComparators; n++ {
		if err := p.WriteMem32(regmap.DWTFunction(n), 0); err != nil {
			return traceerr.New("traceconfig.Setup(DWT func clear)", traceerr.KindTransportError, err)
		}
	}

	if err := p.WriteMem32(regmap.DBGMCU, regmap.DBGMCUValue); err != nil {
		return traceerr.New("traceconfig.Setup(DBGMCU end)", traceerr.KindTransportError, err)
	}

	if cfg.Exception {
		c.shadow.SetExceptionTracing(true)
	}
	if cfg.Profiling {
		c.shadow.SetProfiling(true, cfg.Reload)
	}
	return c.shadow.Apply(p)
}

// SetExceptionTracing toggles DWT_CTRL bit 16 via the shadow and flushes it.
func (c *Configurator) SetExceptionTracing(p probe.Probe, on bool) error {
	c.shadow.SetExceptionTracing(on)
	if err := c.shadow.Apply(p); err != nil {
		return traceerr.New("traceconfig.SetExceptionTracing", traceerr.KindTransportError, err)
	}
	return nil
}

// SetProfiling toggles PC-sample profiling via the shadow and flushes it.
func (c *Configurator) SetProfiling(p probe.Probe, on bool, reload uint8) error {
	c.shadow.SetProfiling(on, reload)
	if err := c.shadow.Apply(p); err != nil {
		return traceerr.New("traceconfig.SetProfiling", traceerr.KindTransportError, err)
	}
	return nil
}

// ApplyDWTCtrl writes the current shadow word unconditionally (spec
// section 4.2: apply_dwt_ctrl).
func (c *Configurator) ApplyDWTCtrl(p probe.Probe) error {
	if err := c.shadow.Apply(p); err != nil {
		return traceerr.New("traceconfig.ApplyDWTCtrl", traceerr.KindTransportError, err)
	}
	return nil
}
