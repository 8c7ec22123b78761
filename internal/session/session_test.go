package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/probe/probetest"
)

func openTestSession(t *testing.T, fake *probetest.Fake) *Session {
	t.Helper()
	openFunc := probe.OpenFunc(func(ctx context.Context) (probe.Probe, error) {
		return fake, nil
	})
	s, err := Open(context.Background(), openFunc, 8, 250000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenConfiguresTargetOnce(t *testing.T) {
	fake := probetest.New()
	s := openTestSession(t, fake)
	defer s.Close()

	if len(fake.Mem) == 0 {
		t.Fatal("Open should have programmed the debug block via traceconfig.Setup")
	}
}

func TestSetWatchWiresDispatcherWatchInfo(t *testing.T) {
	fake := probetest.New()
	s := openTestSession(t, fake)
	defer s.Close()

	addr := uint32(0x20000100)
	size := uint32(4)
	if err := s.SetWatch(0, "", &addr, &size, "w"); err != nil {
		t.Fatalf("SetWatch: %v", err)
	}
	if !s.dispatcher.Watches[0].Render.DisplayWrite {
		t.Error("dispatcher watch info was not updated with render flags")
	}
}

func TestStartReadBlockStopDrainsQueue(t *testing.T) {
	fake := probetest.New()
	fake.TraceQueue = [][]byte{{0x00}} // sync byte
	s := openTestSession(t, fake)
	defer s.Close()

	var out bytes.Buffer
	s.dispatcher.Out = &out

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !s.ReadBlock() {
		t.Fatal("ReadBlock reported the pump stopped before it should have")
	}

	cancel()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
