// Package session implements the public Session API (spec section 6): it
// wires the Trace Configurator, Watchpoint Manager, SWO Pump, TPIU Parser,
// and Event Dispatcher into one cohesive object, replacing the ad hoc
// GracefulInterruptHandler context manager from
// original_source/pytrace/cli.py with an errgroup-coordinated worker and
// context cancellation.
package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coretrace/swotrace/internal/dispatch"
	"github.com/coretrace/swotrace/internal/dwt"
	"github.com/coretrace/swotrace/internal/logx"
	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/pump"
	"github.com/coretrace/swotrace/internal/symbols"
	"github.com/coretrace/swotrace/internal/tpiu"
	"github.com/coretrace/swotrace/internal/traceconfig"
	"github.com/coretrace/swotrace/internal/traceerr"
)

// dequeueTimeout is the parser's yield interval when the pump's queue is
// empty (spec section 4.4 and 5: "the parser consumes with a 1-second
// dequeue timeout; if the queue is empty, the parser yields").
const dequeueTimeout = 1 * time.Second

// Session owns a single probe connection across its lifetime: open,
// configure, start, read, stop, close (spec section 6's semantic API).
type Session struct {
	probe    probe.Probe
	config   *traceconfig.Configurator
	watches  *dwt.Manager
	resolver *symbols.Resolver
	cfg      traceconfig.Config

	dispatcher *dispatch.Dispatcher
	parser     *tpiu.Parser
	pump       *pump.Pump

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Open opens a probe via openFunc and returns a Session ready for
// set_watch / set_exception_tracing / set_profiling / start (spec section
// 6). xtalMHz and baudHz configure the SWO UART; see traceconfig.Config.
func Open(ctx context.Context, openFunc probe.OpenFunc, xtalMHz float64, baudHz int) (*Session, error) {
	p, err := openFunc(ctx)
	if err != nil {
		return nil, traceerr.New("session.Open", traceerr.KindProbeUnavailable, err)
	}

	s := &Session{
		probe:      p,
		config:     traceconfig.New(),
		watches:    dwt.NewManager(),
		resolver:   symbols.New(),
		cfg:        traceconfig.Config{XtalMHz: xtalMHz, BaudHz: baudHz},
		dispatcher: dispatch.New(),
	}
	s.dispatcher.Resolver = s.resolver

	if err := s.config.Setup(s.probe, s.cfg); err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

// LoadImage loads a target ELF image for symbol and function resolution
// (spec section 6: "zero to two image paths"). Call before Start.
func (s *Session) LoadImage(path string) error {
	return s.resolver.Load(path)
}

// SetWatch configures DWT comparator idx (spec section 6:
// session.set_watch). sym may be "" to configure purely by address.
func (s *Session) SetWatch(idx int, sym string, addr, size *uint32, flags string) error {
	render, err := s.watches.SetupWatch(s.probe, idx, s.resolver, sym, addr, size, flags)
	if err != nil {
		return err
	}
	name := sym
	if name == "" && addr != nil {
		if resolved, ok := s.resolver.AddrToName(uint64(*addr)); ok {
			name = resolved
		}
	}
	s.dispatcher.Watches[idx] = dispatch.WatchInfo{Render: render, Name: name}
	return nil
}

// SetExceptionTracing toggles exception tracing (spec section 6).
func (s *Session) SetExceptionTracing(on bool) error {
	return s.config.SetExceptionTracing(s.probe, on)
}

// SetProfiling toggles PC-sample profiling with the given reload value
// (0-15, spec section 3 and 4.2).
func (s *Session) SetProfiling(on bool, reload uint8) error {
	s.cfg.Profiling = on
	s.cfg.Reload = reload
	return s.config.SetProfiling(s.probe, on, reload)
}

// Start begins the SWO Pump on its own goroutine (spec section 4.4 and 5:
// "a single worker, logically parallel to the parser"). The caller then
// drives decoding by calling ReadBlock in a loop, matching the scheduling
// model in spec section 5: the parser/dispatcher runs on the caller's own
// goroutine, not the pump's. Probe exclusivity begins here: after Start,
// only Stop and the pump's own ReadTrace calls may touch the probe (spec
// section 5).
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pump = pump.New(s.probe, s.config, s.watches, s.cfg)
	s.parser = tpiu.New(s.dispatcher.Handlers())

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error {
		return s.pump.Run(gctx)
	})

	return nil
}

// ReadBlock dequeues and parses the next block of trace bytes, blocking
// up to dequeueTimeout if none is pending (spec section 6:
// session.read_block, spec section 4.4's backpressure contract). It
// reports false once the pump has stopped and its queue has drained,
// matching the "bytes|none" semantic return.
func (s *Session) ReadBlock() (ok bool) {
	select {
	case block, open := <-s.pump.Out:
		if !open {
			return false
		}
		s.parser.FeedBytes(block)
		return true
	case <-time.After(dequeueTimeout):
		return true
	}
}

// Stop requests a clean shutdown (spec section 6: session.stop) and waits
// for the pump to exit, draining any blocks still in flight first.
func (s *Session) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.group.Wait()
	for block := range s.pump.Out {
		s.parser.FeedBytes(block)
	}
	if err != nil {
		logx.Errorf("session: pump exited with error: %v", err)
	}
	return err
}

// Close releases the underlying probe handle and any addr2line
// subprocesses. Call after Stop.
func (s *Session) Close() error {
	s.resolver.Close()
	return s.probe.Close()
}

// CoreID returns the SWD core identification code (spec section 6).
func (s *Session) CoreID() (uint32, error) {
	id, err := s.probe.CoreID()
	if err != nil {
		return 0, traceerr.New("session.CoreID", traceerr.KindTransportError, err)
	}
	return id, nil
}

// TargetVoltage returns the measured target supply voltage (spec section
// 6).
func (s *Session) TargetVoltage() (float64, error) {
	v, err := s.probe.TargetVoltage()
	if err != nil {
		return 0, traceerr.New("session.TargetVoltage", traceerr.KindTransportError, err)
	}
	return v, nil
}

// Dispatcher exposes the underlying dispatcher so callers can point its
// output at something other than os.Stdout, or swap the resolver.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

func (s *Session) String() string {
	return fmt.Sprintf("session{xtal=%gMHz baud=%dHz}", s.cfg.XtalMHz, s.cfg.BaudHz)
}
