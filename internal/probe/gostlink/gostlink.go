// Package gostlink is the real probe.Probe implementation: an ST-Link V2
// USB HID transport. No HID library appears anywhere in the example pack
// (spec.md §2 treats the probe as an external collaborator, and none of
// the pack's go.mod files pull in a USB/HID dependency), so this adapter
// talks to the device the way several minimal Go HID tools do on Linux:
// open the kernel's /dev/hidrawN character device directly and exchange
// fixed-size report buffers with plain read(2)/write(2), issued through
// golang.org/x/sys/unix. That promotes x/sys from x/term's transitive dependency
// to something this module also calls directly (see DESIGN.md).
package gostlink

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/traceerr"
)

// ST-Link V2 USB vendor/product ID, as enumerated under
// /sys/class/hidraw/*/device/uevent.
const (
	vendorID  = "0483"
	productID = "3748"
)

// ST-Link V2 command bytes (public vendor protocol, documented in the
// widely mirrored stlink-tools / OpenOCD st-link drivers).
const (
	cmdGetVersion   = 0xF1
	cmdDebugCommand = 0xF2
	cmdSWVStartRead = 0xF8
	cmdSWVStopRead  = 0xF9
	cmdSWVGetCount  = 0xFA
	cmdSWVReadBuf   = 0xFB

	cmdDebugEnterSWD   = 0xA3
	cmdDebugExit       = 0x21
	cmdDebugReadMem32  = 0x07
	cmdDebugWriteMem32 = 0x08
	cmdDebugReadCoreID = 0x22
	cmdDebugRunCore    = 0x09

	reportSize = 64
)

// Device is a probe.Probe backed by a /dev/hidrawN handle.
type Device struct {
	f *os.File
}

// Open scans /sys/class/hidraw for an attached ST-Link V2 and returns a
// Device, or wraps traceerr.ErrProbeUnavailable if none is attached (spec
// section 7: KindProbeUnavailable, terminal).
func Open(ctx context.Context) (probe.Probe, error) {
	path, err := findDevice()
	if err != nil {
		return nil, traceerr.New("gostlink.Open", traceerr.KindProbeUnavailable, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, traceerr.New("gostlink.Open", traceerr.KindProbeUnavailable, err)
	}
	return &Device{f: f}, nil
}

func findDevice() (string, error) {
	entries, err := os.ReadDir("/sys/class/hidraw")
	if err != nil {
		return "", fmt.Errorf("%w: %v", traceerr.ErrProbeUnavailable, err)
	}
	for _, e := range entries {
		ueventPath := filepath.Join("/sys/class/hidraw", e.Name(), "device", "uevent")
		data, err := os.ReadFile(ueventPath)
		if err != nil {
			continue
		}
		content := string(data)
		if strings.Contains(content, "HID_ID") && strings.Contains(strings.ToLower(content), vendorID) && strings.Contains(strings.ToLower(content), productID) {
			return filepath.Join("/dev", e.Name()), nil
		}
	}
	return "", traceerr.ErrProbeUnavailable
}

func (d *Device) transact(cmd []byte, replyLen int) ([]byte, error) {
	buf := make([]byte, reportSize)
	copy(buf, cmd)
	if _, err := unix.Write(int(d.f.Fd()), buf); err != nil {
		return nil, err
	}
	if replyLen == 0 {
		return nil, nil
	}
	reply := make([]byte, reportSize)
	n, err := unix.Read(int(d.f.Fd()), reply)
	if err != nil {
		return nil, err
	}
	if n < replyLen {
		return nil, fmt.Errorf("gostlink: short reply: got %d want %d", n, replyLen)
	}
	return reply[:replyLen], nil
}

func (d *Device) WriteMem32(addr uint32, value uint32) error {
	cmd := make([]byte, 10)
	cmd[0] = cmdDebugCommand
	cmd[1] = cmdDebugWriteMem32
	binary.LittleEndian.PutUint32(cmd[2:], addr)
	binary.LittleEndian.PutUint32(cmd[6:], value)
	_, err := d.transact(cmd, 0)
	return err
}

func (d *Device) ReadMem32(addr uint32) (uint32, error) {
	cmd := make([]byte, 6)
	cmd[0] = cmdDebugCommand
	cmd[1] = cmdDebugReadMem32
	binary.LittleEndian.PutUint32(cmd[2:], addr)
	reply, err := d.transact(cmd, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(reply), nil
}

func (d *Device) TargetVoltage() (float64, error) {
	cmd := []byte{cmdGetVersion}
	reply, err := d.transact(cmd, 8)
	if err != nil {
		return 0, err
	}
	analogIn := binary.LittleEndian.Uint32(reply[0:4])
	analogRef := binary.LittleEndian.Uint32(reply[4:8])
	if analogRef == 0 {
		return 0, fmt.Errorf("gostlink: zero ADC reference")
	}
	return 2.4 * float64(analogIn) / float64(analogRef), nil
}

func (d *Device) CoreID() (uint32, error) {
	cmd := []byte{cmdDebugCommand, cmdDebugReadCoreID}
	reply, err := d.transact(cmd, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(reply), nil
}

func (d *Device) StartTraceRX() error {
	_, err := d.transact([]byte{cmdSWVStartRead}, 0)
	return err
}

func (d *Device) StopTraceRX() error {
	_, err := d.transact([]byte{cmdSWVStopRead}, 0)
	return err
}

func (d *Device) TraceBufferedCount() (int, error) {
	reply, err := d.transact([]byte{cmdSWVGetCount}, 4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(reply)), nil
}

func (d *Device) ReadTrace() ([]byte, error) {
	reply, err := d.transact([]byte{cmdSWVReadBuf}, reportSize)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(reply, "\x00"), nil
}

func (d *Device) LeaveState() error {
	_, err := d.transact([]byte{cmdDebugCommand, cmdDebugExit}, 0)
	return err
}

func (d *Device) EnterDebugSWD() error {
	_, err := d.transact([]byte{cmdDebugCommand, cmdDebugEnterSWD}, 0)
	return err
}

func (d *Device) Close() error {
	return d.f.Close()
}
