// Package dm emulates the Debug Module of a single RISC-V hart as seen
// through the Debug Module Interface: a register file with address
// specific side effects, an abstract command engine and a read sequencing
// policy that walks the hart through reset, halt and resume.
package dm

import (
	"sync"

	"github.com/dmisim/dmisim/pkg/logflags"
)

// Config configures a DebugModule.
type Config struct {
	// Registers is the register table, DefaultRegisters if nil.
	Registers []Register
	// InitialValues override the initial value of table registers and may
	// add registers outside the table.
	InitialValues map[uint32]uint32
	// StaticReads disables the sequencing policy: reads return the stored
	// value of every register.
	StaticReads bool
	// Policy is the sequencing policy, DefaultSequencePolicy if nil.
	Policy *SequencePolicy
}

// DebugModule owns all emulated hart state. Every access is serialized by
// a single mutex so concurrent sessions can share one DebugModule.
type DebugModule struct {
	mu     sync.Mutex
	regs   *RegisterFile
	engine *CommandEngine
	policy *SequencePolicy
	static bool

	log logflags.Logger
}

// New creates a debug module in its reset state.
func New(cfg Config) *DebugModule {
	table := cfg.Registers
	if table == nil {
		table = DefaultRegisters
	}
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultSequencePolicy()
	}
	return &DebugModule{
		regs:   NewRegisterFile(table, cfg.InitialValues),
		engine: NewCommandEngine(),
		policy: policy,
		static: cfg.StaticReads,
		log:    logflags.DMILogger(),
	}
}

// Read returns the effective value of addr. Read counters of seq advance
// on every call, even when addr is not found. A nil seq reads stored
// values without sequencing.
func (d *DebugModule) Read(seq *SequenceState, addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var count uint64
	if seq != nil {
		count = seq.Next(addr)
	}
	raw, err := d.regs.Read(addr)
	if err != nil {
		d.log.Debugf("read %#x: address not found", addr)
		return 0, err
	}
	v := raw
	if r, ok := d.regs.Register(addr); ok && r.Kind == KindConstant {
		v = r.Fixed
	} else if seq != nil && !d.static {
		v = d.policy.Override(addr, raw, count)
	}
	if logflags.DMI() {
		d.log.Debugf("read %#x = %#08x (stored %#08x, read #%d)", addr, v, raw, count)
	}
	return v, nil
}

// Write stores value at addr and applies the side effects of addr.
func (d *DebugModule) Write(addr, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.regs.Write(addr, value)
	switch d.regs.Kind(addr) {
	case KindControl:
		d.controlWritten(value)
	case KindCommand:
		cmderr := d.engine.Execute(value, d.regs)
		cs, _ := d.regs.Read(AddrAbstractCS)
		d.regs.Write(AddrAbstractCS, cs&^abstractCSCmdErrMask|uint32(cmderr))
		if cmderr != CmdErrNone {
			d.log.Debugf("command %#08x failed: %s", value, cmderr)
		}
	}
	if logflags.DMI() {
		d.log.Debugf("write %#x <- %#08x", addr, value)
	}
}

// controlWritten updates DMSTATUS after a write of v to DMCONTROL.
func (d *DebugModule) controlWritten(v uint32) {
	status, _ := d.regs.Read(AddrDMStatus)
	before := status
	if v&ControlDebugReq != 0 {
		status &^= statusRunningMask
		status |= statusResumeAck
	}
	if v&ControlHaltReq != 0 {
		status &^= statusResumeMask
		status |= statusHaveReset
	}
	if v&ControlHartReset != 0 {
		status |= statusResetBit
	}
	if v&ControlAckReset != 0 {
		status &^= statusResetBit
	}
	status = status&^statusVersionMask | statusVersion013
	d.regs.Write(AddrDMStatus, status)
	d.log.Debugf("dmstatus %#08x -> %#08x", before, status)
}

// Peek returns the stored value of addr without sequencing and without
// advancing any counter.
func (d *DebugModule) Peek(addr uint32) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.regs.Read(addr)
	return v, err == nil
}

// HartState is a copy of the registers reachable through abstract
// commands.
type HartState struct {
	GPRs [NumGPRs]uint32
	DPC  uint32
	DCSR uint32
}

// Hart returns a snapshot of the hart registers.
func (d *DebugModule) Hart() HartState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HartState{GPRs: d.engine.gprs, DPC: d.engine.dpc, DCSR: d.engine.dcsr}
}
