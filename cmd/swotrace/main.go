// Command swotrace captures and decodes an ARM Cortex-M SWO trace stream
// over an ST-Link V2 debug probe. It has two subcommands: `log` runs a
// live trace session to stdout, `target` reports probe/target identity
// without starting trace reception. Mirrors original_source/pytrace/cli.py's
// option set on top of the standard flag package (cmd/ie32to64/main.go's
// CLI style).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/coretrace/swotrace/internal/probe/gostlink"
	"github.com/coretrace/swotrace/internal/scripting"
	"github.com/coretrace/swotrace/internal/session"
	"github.com/coretrace/swotrace/internal/termio"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "log":
		err = runLog(os.Args[2:])
	case "target":
		err = runTarget(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: swotrace <log|target> [options]\n\n")
	fmt.Fprintf(os.Stderr, "  log     capture and decode a live SWO trace session\n")
	fmt.Fprintf(os.Stderr, "  target  report probe and target identity, then exit\n")
}

// watchFlag holds one -watchN=... flag's raw fields before they are
// resolved against the symbol table by internal/session.
type watchFlag struct {
	sym   string
	addr  string
	size  string
	flags string
	trig  string
}

func (w *watchFlag) empty() bool {
	return w.sym == "" && w.addr == "" && w.size == "" && w.flags == "" && w.trig == ""
}

type sharedFlags struct {
	xtal      float64
	baud      int
	exception bool
	profiling bool
	reload    int
	images    []string
	watches   [4]watchFlag
}

func parseShared(fs *flag.FlagSet, args []string) (*sharedFlags, error) {
	s := &sharedFlags{}
	fs.Float64Var(&s.xtal, "xtal", 8, "target crystal frequency in MHz")
	fs.IntVar(&s.baud, "baud", 250000, "SWO UART baud rate in Hz")
	fs.BoolVar(&s.exception, "exceptions", false, "enable exception tracing")
	fs.BoolVar(&s.profiling, "profile", false, "enable PC-sample profiling")
	fs.IntVar(&s.reload, "reload", 15, "profiling sample reload value (0-15)")

	var image1, image2 string
	fs.StringVar(&image1, "image", "", "target ELF image for symbol resolution")
	fs.StringVar(&image2, "image2", "", "second target ELF image (e.g. bootloader)")

	for i := range s.watches {
		w := &s.watches[i]
		prefix := fmt.Sprintf("watch%d", i)
		fs.StringVar(&w.sym, prefix+"-sym", "", "symbol name for watchpoint "+strconv.Itoa(i))
		fs.StringVar(&w.addr, prefix+"-addr", "", "hex address for watchpoint "+strconv.Itoa(i))
		fs.StringVar(&w.size, prefix+"-size", "", "size in bytes for watchpoint "+strconv.Itoa(i))
		fs.StringVar(&w.flags, prefix+"-flags", "", "flags (subset of d p o r w u) for watchpoint "+strconv.Itoa(i))
		fs.StringVar(&w.trig, prefix+"-trigger", "", "path to a Lua trigger script for watchpoint "+strconv.Itoa(i))
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if image1 != "" {
		s.images = append(s.images, image1)
	}
	if image2 != "" {
		s.images = append(s.images, image2)
	}
	return s, nil
}

func openAndConfigure(ctx context.Context, s *sharedFlags) (*session.Session, error) {
	sess, err := session.Open(ctx, gostlink.Open, s.xtal, s.baud)
	if err != nil {
		return nil, err
	}

	for _, img := range s.images {
		if err := sess.LoadImage(img); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	if s.exception {
		if err := sess.SetExceptionTracing(true); err != nil {
			return nil, err
		}
	}
	if s.profiling {
		if err := sess.SetProfiling(true, uint8(s.reload)); err != nil {
			return nil, err
		}
	}

	for i := range s.watches {
		w := &s.watches[i]
		if w.empty() {
			continue
		}
		var addr, size *uint32
		if w.addr != "" {
			v, err := strconv.ParseUint(w.addr, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("watch%d-addr: %w", i, err)
			}
			u := uint32(v)
			addr = &u
		}
		if w.size != "" {
			v, err := strconv.ParseUint(w.size, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("watch%d-size: %w", i, err)
			}
			u := uint32(v)
			size = &u
		}
		if err := sess.SetWatch(i, w.sym, addr, size, w.flags); err != nil {
			return nil, err
		}
		if w.trig != "" {
			src, err := os.ReadFile(w.trig)
			if err != nil {
				return nil, fmt.Errorf("watch%d-trigger: %w", i, err)
			}
			trig, err := scripting.Compile(string(src))
			if err != nil {
				return nil, fmt.Errorf("watch%d-trigger: %w", i, err)
			}
			sess.Dispatcher().Triggers[i] = trig
		}
	}

	return sess, nil
}

func runLog(args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	s, err := parseShared(fs, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := openAndConfigure(ctx, s)
	if err != nil {
		return err
	}
	defer sess.Close()

	console, err := termio.Open()
	if err != nil {
		return err
	}
	defer console.Close()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if console.KeyPressed() {
			break
		}
		if !sess.ReadBlock() {
			break
		}
	}

	return sess.Stop()
}

func runTarget(args []string) error {
	fs := flag.NewFlagSet("target", flag.ExitOnError)
	s, err := parseShared(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sess, err := openAndConfigure(ctx, s)
	if err != nil {
		return err
	}
	defer sess.Close()

	coreID, err := sess.CoreID()
	if err != nil {
		return err
	}
	voltage, err := sess.TargetVoltage()
	if err != nil {
		return err
	}

	fmt.Printf("core id:       0x%08x\n", coreID)
	fmt.Printf("target supply: %.2f V\n", voltage)
	return nil
}
