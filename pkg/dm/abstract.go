package dm

import (
	"fmt"

	"github.com/dmisim/dmisim/pkg/logflags"
)

// CmdErr is the abstract command error code reported in the low 3 bits of
// ABSTRACTCS.
type CmdErr uint8

const (
	CmdErrNone         CmdErr = 0
	CmdErrNotSupported CmdErr = 7
)

func (e CmdErr) String() string {
	switch e {
	case CmdErrNone:
		return "none"
	case CmdErrNotSupported:
		return "not supported"
	}
	return fmt.Sprintf("cmderr %d", uint8(e))
}

// CmdTypeAccessRegister is the only abstract command type implemented.
const CmdTypeAccessRegister uint8 = 0

// AccessSize32 is the aarsize encoding of a 32-bit transfer.
const AccessSize32 uint8 = 2

// AccessRegister is a decoded abstract command word.
type AccessRegister struct {
	CmdType  uint8  // bits 31:24
	Write    bool   // bit 23
	Transfer bool   // bit 20
	PostExec bool   // bit 19
	Size     uint8  // bits 18:16
	Regno    uint16 // bits 15:0
}

// DecodeCommand splits a word written to COMMAND into its fields.
func DecodeCommand(word uint32) AccessRegister {
	return AccessRegister{
		CmdType:  uint8(word >> 24),
		Write:    bit(word, 23),
		Transfer: bit(word, 20),
		PostExec: bit(word, 19),
		Size:     uint8(word>>16) & 0x7,
		Regno:    uint16(word),
	}
}

// Encode is the inverse of DecodeCommand.
func (c AccessRegister) Encode() uint32 {
	w := uint32(c.CmdType)<<24 | uint32(c.Size&0x7)<<16 | uint32(c.Regno)
	if c.Write {
		w |= 1 << 23
	}
	if c.Transfer {
		w |= 1 << 20
	}
	if c.PostExec {
		w |= 1 << 19
	}
	return w
}

func (c AccessRegister) String() string {
	return fmt.Sprintf("cmdtype=%#x regno=%#x aarsize=%d write=%t transfer=%t postexec=%t", c.CmdType, c.Regno, c.Size, c.Write, c.Transfer, c.PostExec)
}

// CommandEngine executes Access Register abstract commands against a GPR
// bank and a small CSR set, moving data through DATA0.
type CommandEngine struct {
	gprs [NumGPRs]uint32
	dpc  uint32
	dcsr uint32

	log logflags.Logger
}

// NewCommandEngine returns an engine with zeroed GPRs and the reset value
// of dcsr.
func NewCommandEngine() *CommandEngine {
	return &CommandEngine{
		dcsr: initialDCSR,
		log:  logflags.AbstractLogger(),
	}
}

// Execute runs the command encoded in word. Data moves between the target
// register and DATA0 of rf.
func (e *CommandEngine) Execute(word uint32, rf *RegisterFile) CmdErr {
	cmd := DecodeCommand(word)
	if cmd.CmdType != CmdTypeAccessRegister {
		e.log.Debugf("command type %#x not implemented", cmd.CmdType)
		return CmdErrNotSupported
	}
	if logflags.Abstract() {
		e.log.Debugf("access register %s", cmd)
	}
	if !cmd.Transfer {
		return CmdErrNone
	}
	if cmd.Write {
		data0, _ := rf.Read(AddrData0)
		e.writeRegister(cmd.Regno, data0)
		return CmdErrNone
	}
	if v, ok := e.readRegister(cmd.Regno); ok {
		rf.Write(AddrData0, v)
	}
	return CmdErrNone
}

func isGPR(regno uint16) bool {
	return regno >= RegnoGPRBase && regno <= RegnoGPRLast
}

func (e *CommandEngine) writeRegister(regno uint16, v uint32) {
	switch {
	case isGPR(regno):
		e.gprs[regno-RegnoGPRBase] = v
		e.log.Debugf("x%d <- %#08x", regno-RegnoGPRBase, v)
	case regno == RegnoDPC:
		e.dpc = v
		e.log.Debugf("dpc <- %#08x", v)
	case regno == RegnoDCSR, regno == RegnoMISA:
		e.dcsr = v
		e.log.Debugf("dcsr <- %#08x", v)
	default:
		e.log.Debugf("write to register %#x not implemented", regno)
	}
}

func (e *CommandEngine) readRegister(regno uint16) (uint32, bool) {
	switch {
	case isGPR(regno):
		return e.gprs[regno-RegnoGPRBase], true
	case regno == RegnoDPC:
		return e.dpc, true
	case regno == RegnoDCSR:
		return e.dcsr, true
	case regno == RegnoMstatus:
		return mstatusValue, true
	case regno == RegnoMISA:
		return misaValue, true
	}
	e.log.Debugf("read from register %#x not implemented", regno)
	return 0, false
}

// GPR returns the value of general purpose register n.
func (e *CommandEngine) GPR(n int) uint32 {
	return e.gprs[n]
}

// DPC returns the value of the program counter.
func (e *CommandEngine) DPC() uint32 {
	return e.dpc
}

// DCSR returns the value of the debug control and status register.
func (e *CommandEngine) DCSR() uint32 {
	return e.dcsr
}
