package dm

// DMI register addresses.
const (
	AddrDTMCSDebugOffset uint32 = 0x00
	AddrData0            uint32 = 0x04
	AddrData1            uint32 = 0x05
	AddrDMControl        uint32 = 0x10
	AddrDMStatus         uint32 = 0x11
	AddrHartInfo         uint32 = 0x12
	AddrAbstractCS       uint32 = 0x16
	AddrCommand          uint32 = 0x17
	AddrAbstractAuto     uint32 = 0x18
	AddrProgBuf0         uint32 = 0x20
	AddrSBCS             uint32 = 0x38
)

// DMCONTROL request bits.
const (
	ControlDebugReq  uint32 = 1 << 31
	ControlHaltReq   uint32 = 1 << 30
	ControlHartReset uint32 = 1 << 0
	ControlAckReset  uint32 = 1 << 1
)

// DMSTATUS masks touched by DMCONTROL writes. These were tuned against a
// specific transport client and do not follow the 0.13 field layout.
const (
	statusRunningMask    uint32 = 0x3
	statusResumeAck      uint32 = 0x2
	statusResumeMask     uint32 = 0x300
	statusHaveReset      uint32 = 0x200
	statusResetBit       uint32 = 0x400
	statusVersionMask    uint32 = 0x3
	statusVersion013     uint32 = 0x2
	abstractCSCmdErrMask uint32 = 0x7
)

// Values reported by the sequenced DMSTATUS/DMCONTROL reads.
const (
	StatusHaltedAfterReset uint32 = 0x00400C82
	StatusHaltedUnsettled  uint32 = 0x00400282
	StatusSteady           uint32 = 0x00030382

	ControlActive         uint32 = 0x00000041
	ControlActiveDMIReset uint32 = 0x00000040
)

// dtmcsDebugValue is returned by every read of AddrDTMCSDebugOffset.
const dtmcsDebugValue uint32 = 0x61

// Abstract command register numbers.
const (
	RegnoDPC     uint16 = 0x0004
	RegnoMstatus uint16 = 0x0300
	RegnoMISA    uint16 = 0x0301
	RegnoDCSR    uint16 = 0x07b0
	RegnoGPRBase uint16 = 0x1000
	RegnoGPRLast uint16 = 0x101f
)

// NumGPRs is the size of the general purpose register bank.
const NumGPRs = 32

const (
	initialDCSR  uint32 = 0x40000003
	mstatusValue uint32 = 0x00000200
	misaValue    uint32 = 0x00331008
)

// Status is a decoded DMSTATUS word using the 0.13 field layout.
type Status struct {
	Version         uint8
	ConfStrPtrValid bool
	HasResetHaltReq bool
	AuthBusy        bool
	Authenticated   bool
	AnyHalted       bool
	AllHalted       bool
	AnyRunning      bool
	AllRunning      bool
	AnyUnavail      bool
	AllUnavail      bool
	AnyNonexistent  bool
	AllNonexistent  bool
	AnyResumeAck    bool
	AllResumeAck    bool
	AnyHaveReset    bool
	AllHaveReset    bool
	ImpEBreak       bool
}

func bit(v uint32, n uint) bool {
	return v&(1<<n) != 0
}

// DecodeStatus splits a DMSTATUS word into its fields.
func DecodeStatus(v uint32) Status {
	return Status{
		Version:         uint8(v & 0xf),
		ConfStrPtrValid: bit(v, 4),
		HasResetHaltReq: bit(v, 5),
		AuthBusy:        bit(v, 6),
		Authenticated:   bit(v, 7),
		AnyHalted:       bit(v, 8),
		AllHalted:       bit(v, 9),
		AnyRunning:      bit(v, 10),
		AllRunning:      bit(v, 11),
		AnyUnavail:      bit(v, 12),
		AllUnavail:      bit(v, 13),
		AnyNonexistent:  bit(v, 14),
		AllNonexistent:  bit(v, 15),
		AnyResumeAck:    bit(v, 16),
		AllResumeAck:    bit(v, 17),
		AnyHaveReset:    bit(v, 18),
		AllHaveReset:    bit(v, 19),
		ImpEBreak:       bit(v, 22),
	}
}

// Flags returns the names of the fields that are set, in bit order.
func (s Status) Flags() []string {
	var r []string
	add := func(set bool, name string) {
		if set {
			r = append(r, name)
		}
	}
	add(s.ConfStrPtrValid, "confstrptrvalid")
	add(s.HasResetHaltReq, "hasresethaltreq")
	add(s.AuthBusy, "authbusy")
	add(s.Authenticated, "authenticated")
	add(s.AnyHalted, "anyhalted")
	add(s.AllHalted, "allhalted")
	add(s.AnyRunning, "anyrunning")
	add(s.AllRunning, "allrunning")
	add(s.AnyUnavail, "anyunavail")
	add(s.AllUnavail, "allunavail")
	add(s.AnyNonexistent, "anynonexistent")
	add(s.AllNonexistent, "allnonexistent")
	add(s.AnyResumeAck, "anyresumeack")
	add(s.AllResumeAck, "allresumeack")
	add(s.AnyHaveReset, "anyhavereset")
	add(s.AllHaveReset, "allhavereset")
	add(s.ImpEBreak, "impebreak")
	return r
}
