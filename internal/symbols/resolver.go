// Package symbols implements the Symbol Resolver (spec section 4.1): it
// loads one or more target program images, builds an address/name/size
// table from their global symbols, and optionally streams PC values
// through an external addr2line-like tool for function/line resolution.
//
// Errors here are never fatal (spec section 7, KindUnresolved): a missing
// symbol or a dead addr2line subprocess degrades to the sentinel "no
// answer" rather than propagating an error. A failed image load is
// reported by Load's error return, and the resolver stays usable without
// that image.
package symbols

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Record is one resolved symbol: its name, the ELF section classifier it
// came from, its size in bytes, and its address.
type Record struct {
	Name    string
	Section string // "text", "data", "weak", or "bss"
	Size    uint64
	Addr    uint64
}

// image holds one loaded program's symbol table and its addr2line pipe.
type image struct {
	path      string
	byName    map[string]Record
	byAddr    map[uint64]Record
	resolver  *addrResolver // nil if addr2line could not be started
}

// Resolver answers name<->address<->size<->function queries across all
// images loaded into it, in load order (spec section 4.1: "order of image
// load = lookup priority" for name lookups; "last-write-wins" for address
// collisions, per spec section 9).
type Resolver struct {
	mu     sync.Mutex
	images []*image
}

// New returns an empty Resolver. Load images into it with Load.
func New() *Resolver {
	return &Resolver{}
}

// Load parses the ELF image at path and adds its global text/data/weak/bss
// symbols to the resolver, and starts a persistent addr2line subprocess
// against it for function/line resolution (spec section 4.1, section 9).
// A load failure is non-fatal: the image is simply not added, and every
// lookup against it will miss.
func (r *Resolver) Load(path string) error {
	img, err := loadImage(path)
	if err != nil {
		return fmt.Errorf("symbols: load %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, img)
	return nil
}

// Close releases every addr2line subprocess this resolver started.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.images {
		if img.resolver != nil {
			img.resolver.close()
		}
	}
}

func loadImage(path string) (*image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil && len(syms) == 0 {
		// f.Symbols returns an error on no symbol table; that's not
		// fatal, the image just contributes nothing to name/size lookups.
		syms = nil
	}

	img := &image{
		path:   path,
		byName: make(map[string]Record),
		byAddr: make(map[uint64]Record),
	}

	for _, s := range syms {
		section, ok := classifySection(f, s)
		if !ok {
			continue
		}
		rec := Record{Name: s.Name, Section: section, Size: s.Size, Addr: s.Value}
		if _, exists := img.byName[s.Name]; !exists {
			img.byName[s.Name] = rec
		}
		// Within this one image's own symbol table, the later entry at a
		// given address wins. The cross-image rule (a later-loaded image
		// overrides an earlier one at the same address) is a property of
		// Resolver, not of a single image, and is applied in
		// AddrToName/AddrToSize below.
		img.byAddr[s.Value] = rec
	}

	img.resolver = newAddrResolver(path)
	return img, nil
}

// classifySection maps an ELF symbol to one of the four classifiers spec
// section 4.1 cares about: text, data, weak, or bss. Both the upper- and
// lower-case nm-style section letters are treated as valid (spec section
// 4.1: "case sensitive lower- and upper-variants — both are treated as
// valid"), which in ELF terms means: STB_WEAK symbols classify as "weak"
// regardless of section, and everything else classifies by the section
// flags/type of the section the symbol lives in.
func classifySection(f *elf.File, s elf.Symbol) (string, bool) {
	if elf.ST_BIND(s.Info) == elf.STB_WEAK {
		return "weak", true
	}
	if elf.ST_TYPE(s.Info) != elf.STT_FUNC && elf.ST_TYPE(s.Info) != elf.STT_OBJECT {
		return "", false
	}
	if int(s.Section) >= len(f.Sections) {
		return "", false
	}
	sec := f.Sections[s.Section]
	switch {
	case sec.Type == elf.SHT_NOBITS:
		return "bss", true
	case sec.Flags&elf.SHF_EXECINSTR != 0:
		return "text", true
	case sec.Flags&elf.SHF_WRITE != 0:
		return "data", true
	default:
		return "text", true
	}
}

// NameToAddr returns the address of the first loaded image whose symbol
// table contains name, or (0, false) if no image has it.
func (r *Resolver) NameToAddr(name string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.images {
		if rec, ok := img.byName[name]; ok {
			return rec.Addr, true
		}
	}
	return 0, false
}

// NameToSize returns the size of the first loaded image whose symbol table
// contains name, or (0, false) if no image has it.
func (r *Resolver) NameToSize(name string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.images {
		if rec, ok := img.byName[name]; ok {
			return rec.Size, true
		}
	}
	return 0, false
}

// AddrToName returns the symbol name at the exact address addr (no range
// lookup — spec section 4.1), or ("", false) if no image has one. On a
// collision across images, the most recently loaded image wins (spec
// section 9: last-write-wins), so images are walked newest-first.
func (r *Resolver) AddrToName(addr uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.images) - 1; i >= 0; i-- {
		if rec, ok := r.images[i].byAddr[addr]; ok {
			return rec.Name, true
		}
	}
	return "", false
}

// AddrToSize returns the symbol size at the exact address addr, or
// (0, false) if no image has one. Collisions resolve last-write-wins, same
// as AddrToName.
func (r *Resolver) AddrToSize(addr uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.images) - 1; i >= 0; i-- {
		if rec, ok := r.images[i].byAddr[addr]; ok {
			return rec.Size, true
		}
	}
	return 0, false
}

// AddrToFunction resolves addr to the name of the function containing it,
// using each image's addr2line subprocess in load order. The first image
// whose addr2line does not reply "??" wins (spec section 4.1, section 9).
// Unknown addresses return "".
func (r *Resolver) AddrToFunction(addr uint64) string {
	r.mu.Lock()
	images := append([]*image(nil), r.images...)
	r.mu.Unlock()

	for _, img := range images {
		if img.resolver == nil {
			continue
		}
		if name, ok := img.resolver.query(addr); ok {
			return name
		}
	}
	return ""
}

// addrResolver owns a persistent addr2line subprocess pipe for one image,
// matching the scoped-handle pattern spec section 9 calls for: a
// long-running external process wrapped so a failure degrades to "no
// resolution" rather than propagating.
type addrResolver struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	dead   bool
}

func newAddrResolver(imagePath string) *addrResolver {
	cmd := exec.Command("addr2line", "-f", "-C", "-e", imagePath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil
	}
	if err := cmd.Start(); err != nil {
		return nil
	}
	return &addrResolver{cmd: cmd, stdin: stdin, stdout: bufio.NewScanner(stdout)}
}

// query sends one address and reads back the function name line that
// addr2line -f prints first (the line number follows and is ignored here;
// spec section 4.1 only asks for the function name).
func (a *addrResolver) query(addr uint64) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dead {
		return "", false
	}

	if _, err := fmt.Fprintf(a.stdin, "0x%x\n", addr); err != nil {
		a.dead = true
		return "", false
	}
	if !a.stdout.Scan() {
		a.dead = true
		return "", false
	}
	name := strings.TrimSpace(a.stdout.Text())
	// addr2line -f prints the function name, then (on the next line) the
	// file:line; drain that second line so the pipe stays in sync.
	a.stdout.Scan()

	if name == "" || name == "??" {
		return "", false
	}
	return name, true
}

func (a *addrResolver) close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stdin.Close()
	a.dead = true
	_ = a.cmd.Wait()
}
