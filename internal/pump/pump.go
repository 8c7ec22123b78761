// Package pump implements the SWO Pump (spec section 4.4): the single
// worker that drains raw trace bytes from the probe, recovers the target
// across power cycles, and hands byte blocks to the parser over a bounded
// queue.
package pump

import (
	"context"
	"time"

	"github.com/coretrace/swotrace/internal/dwt"
	"github.com/coretrace/swotrace/internal/logx"
	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/traceconfig"
	"github.com/coretrace/swotrace/internal/traceerr"
)

// QueueCapacity is the recommended bounded-queue depth in blocks (spec
// section 4.4).
const QueueCapacity = 256

// stallLimit is the number of consecutive empty polls that trigger a kick
// (spec section 4.4: "exceeds 100 consecutive empties").
const stallLimit = 100

// lowVoltage and recoveredVoltage are the power-loss thresholds from spec
// section 4.4.
const (
	lowVoltage       = 1.0
	recoveredVoltage = 3.0
)

// recoveryPoll is the spin-wait interval while waiting for target voltage
// to recover, and recoverySettle is the settle delay after it does (spec
// section 4.4: "sleep 100 ms").
const (
	recoveryPoll   = 20 * time.Millisecond
	recoverySettle = 100 * time.Millisecond
)

// Pump drains SWO bytes from a Probe onto a bounded blocking channel of
// byte blocks, recovering across target power cycles (spec section 4.4).
type Pump struct {
	Probe   probe.Probe
	Config  *traceconfig.Configurator
	Watches *dwt.Manager
	Cfg     traceconfig.Config

	Out chan []byte

	stall int
}

// New returns a Pump wired to the given probe, configurator, watchpoint
// manager, and trace configuration, with a channel of QueueCapacity blocks.
func New(p probe.Probe, c *traceconfig.Configurator, w *dwt.Manager, cfg traceconfig.Config) *Pump {
	return &Pump{
		Probe:   p,
		Config:  c,
		Watches: w,
		Cfg:     cfg,
		Out:     make(chan []byte, QueueCapacity),
	}
}

// Run drives the pump's Idle->Running->Stopping->Idle lifecycle (spec
// section 4.4) until ctx is cancelled or a transport error breaks the
// loop. It closes Out before returning, so the parser side can range over
// it to detect pump exit. Any transport error is returned; a context
// cancellation returns nil (clean stop, per spec section 5: "completes the
// current iteration ... and exits").
func (pu *Pump) Run(ctx context.Context) error {
	defer close(pu.Out)

	if err := pu.Probe.StartTraceRX(); err != nil {
		return traceerr.New("pump.Run", traceerr.KindTransportError, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = pu.Probe.StopTraceRX()
			return nil
		default:
		}

		if err := pu.iterate(ctx); err != nil {
			_ = pu.Probe.StopTraceRX()
			return err
		}
	}
}

// iterate performs one pass of the per-iteration logic in spec section
// 4.4: voltage check / power-loss recovery, then stall-tracked polling and
// block hand-off.
func (pu *Pump) iterate(ctx context.Context) error {
	voltage, err := pu.Probe.TargetVoltage()
	if err != nil {
		return traceerr.New("pump.iterate(voltage)", traceerr.KindTransportError, err)
	}

	if voltage < lowVoltage {
		return pu.recoverPowerLoss(ctx)
	}

	count, err := pu.Probe.TraceBufferedCount()
	if err != nil {
		return traceerr.New("pump.iterate(count)", traceerr.KindTransportError, err)
	}

	if count == 0 {
		pu.stall++
		if pu.stall > stallLimit {
			return pu.kick()
		}
		return nil
	}

	pu.stall = 0
	block, err := pu.Probe.ReadTrace()
	if err != nil {
		return traceerr.New("pump.iterate(read)", traceerr.KindTransportError, err)
	}
	if len(block) == 0 {
		return nil
	}

	select {
	case pu.Out <- block:
	case <-ctx.Done():
	}
	return nil
}

// kick restarts SWO trace reception after the probe's trace FIFO appears
// to have stalled silently (spec section 4.4).
func (pu *Pump) kick() error {
	logx.Warnf("pump: kicking trace reception after %d consecutive empty polls", pu.stall)
	if err := pu.Probe.StopTraceRX(); err != nil {
		return traceerr.New("pump.kick(stop)", traceerr.KindTransportError, err)
	}
	if err := pu.Probe.StartTraceRX(); err != nil {
		return traceerr.New("pump.kick(start)", traceerr.KindTransportError, err)
	}
	pu.stall = 0
	return nil
}

// recoverPowerLoss implements the power-loss recovery protocol (spec
// section 4.4): spin-wait for voltage recovery, settle, re-enter SWD,
// reprogram the debug block, reapply watchpoints, and restart SWO.
func (pu *Pump) recoverPowerLoss(ctx context.Context) error {
	logx.Warnf("pump: target power loss detected, waiting for recovery")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		voltage, err := pu.Probe.TargetVoltage()
		if err != nil {
			return traceerr.New("pump.recoverPowerLoss(poll)", traceerr.KindTransportError, err)
		}
		if voltage >= recoveredVoltage {
			break
		}
		time.Sleep(recoveryPoll)
	}

	time.Sleep(recoverySettle)

	if err := pu.Probe.LeaveState(); err != nil {
		return traceerr.New("pump.recoverPowerLoss(leave)", traceerr.KindTransportError, err)
	}
	if err := pu.Probe.EnterDebugSWD(); err != nil {
		return traceerr.New("pump.recoverPowerLoss(enter)", traceerr.KindTransportError, err)
	}
	if err := pu.Config.Setup(pu.Probe, pu.Cfg); err != nil {
		return err
	}
	if err := pu.Watches.ReapplyAll(pu.Probe); err != nil {
		return err
	}
	if err := pu.Probe.StartTraceRX(); err != nil {
		return traceerr.New("pump.recoverPowerLoss(restart)", traceerr.KindTransportError, err)
	}

	pu.stall = 0
	logx.Infof("pump: target recovered, trace reception restarted")
	return nil
}
