package dm

import (
	"errors"
	"fmt"
	"sort"
)

// Kind describes how the debug module treats accesses to a register.
type Kind uint8

const (
	KindPlain Kind = iota
	KindControl
	KindStatus
	KindDataStaging
	KindCommand
	KindConstant
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindControl:
		return "control"
	case KindStatus:
		return "status"
	case KindDataStaging:
		return "data-staging"
	case KindCommand:
		return "command"
	case KindConstant:
		return "constant"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Register describes one entry of the DMI register table.
type Register struct {
	Addr    uint32
	Name    string
	Kind    Kind
	Initial uint32
	// Fixed is the value returned by reads of KindConstant registers.
	Fixed uint32
}

// DefaultRegisters is the register table of the emulated debug module.
var DefaultRegisters = []Register{
	{Addr: AddrDTMCSDebugOffset, Name: "dtmcs_debug", Kind: KindConstant, Fixed: dtmcsDebugValue},
	{Addr: AddrData0, Name: "data0", Kind: KindDataStaging},
	{Addr: AddrData1, Name: "data1", Kind: KindPlain},
	{Addr: AddrDMControl, Name: "dmcontrol", Kind: KindControl, Initial: 0x0001},
	{Addr: AddrDMStatus, Name: "dmstatus", Kind: KindStatus, Initial: 0x0202},
	{Addr: AddrHartInfo, Name: "hartinfo", Kind: KindPlain},
	{Addr: AddrAbstractCS, Name: "abstractcs", Kind: KindPlain},
	{Addr: AddrCommand, Name: "command", Kind: KindCommand},
	{Addr: AddrAbstractAuto, Name: "abstractauto", Kind: KindPlain},
	{Addr: AddrProgBuf0, Name: "progbuf0", Kind: KindPlain},
	{Addr: AddrSBCS, Name: "sbcs", Kind: KindPlain},
}

// LookupRegister returns the table entry for addr in DefaultRegisters.
func LookupRegister(addr uint32) (Register, bool) {
	for _, r := range DefaultRegisters {
		if r.Addr == addr {
			return r, true
		}
	}
	return Register{}, false
}

// ErrAddressNotFound is returned when reading an address that has never
// been part of the register file.
var ErrAddressNotFound = errors.New("address not found")

// AddressNotFoundError is returned by reads of addresses missing from the
// register file.
type AddressNotFoundError struct {
	Addr uint32
}

func (err *AddressNotFoundError) Error() string {
	return fmt.Sprintf("read of DMI address %#x: %s", err.Addr, ErrAddressNotFound)
}

func (err *AddressNotFoundError) Unwrap() error {
	return ErrAddressNotFound
}

// RegisterFile maps DMI addresses to their stored 32-bit values.
// Any address may be written; only written or table addresses can be read.
type RegisterFile struct {
	values map[uint32]uint32
	kinds  map[uint32]Register
}

// NewRegisterFile creates a register file populated from table. Entries of
// initial replace the table's initial values and may add new addresses.
func NewRegisterFile(table []Register, initial map[uint32]uint32) *RegisterFile {
	rf := &RegisterFile{
		values: make(map[uint32]uint32, len(table)+len(initial)),
		kinds:  make(map[uint32]Register, len(table)),
	}
	for _, r := range table {
		rf.values[r.Addr] = r.Initial
		rf.kinds[r.Addr] = r
	}
	for addr, v := range initial {
		rf.values[addr] = v
	}
	return rf
}

// Read returns the stored value of addr.
func (rf *RegisterFile) Read(addr uint32) (uint32, error) {
	v, ok := rf.values[addr]
	if !ok {
		return 0, &AddressNotFoundError{Addr: addr}
	}
	return v, nil
}

// Write stores value at addr.
func (rf *RegisterFile) Write(addr, value uint32) {
	rf.values[addr] = value
}

// Kind returns the kind of addr; addresses outside the table are plain.
func (rf *RegisterFile) Kind(addr uint32) Kind {
	if r, ok := rf.kinds[addr]; ok {
		return r.Kind
	}
	return KindPlain
}

// Register returns the table entry for addr, if any.
func (rf *RegisterFile) Register(addr uint32) (Register, bool) {
	r, ok := rf.kinds[addr]
	return r, ok
}

// Addresses returns every address held by the register file, sorted.
func (rf *RegisterFile) Addresses() []uint32 {
	r := make([]uint32, 0, len(rf.values))
	for addr := range rf.values {
		r = append(r, addr)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}
