package dm

import (
	"fmt"
	"strconv"
	"strings"
)

// abiNames are the calling convention names of x0-x31.
var abiNames = [NumGPRs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// HartRegister names a register reachable through abstract commands.
type HartRegister struct {
	Name  string
	Regno uint16
}

var hartRegisters = func() []HartRegister {
	r := make([]HartRegister, 0, 2*NumGPRs+6)
	for i := 0; i < NumGPRs; i++ {
		r = append(r, HartRegister{fmt.Sprintf("x%d", i), RegnoGPRBase + uint16(i)})
	}
	for i, name := range abiNames {
		r = append(r, HartRegister{name, RegnoGPRBase + uint16(i)})
	}
	return append(r,
		HartRegister{"fp", RegnoGPRBase + 8},
		HartRegister{"pc", RegnoDPC},
		HartRegister{"dpc", RegnoDPC},
		HartRegister{"dcsr", RegnoDCSR},
		HartRegister{"mstatus", RegnoMstatus},
		HartRegister{"misa", RegnoMISA},
	)
}()

// HartRegisters returns every register name understood by
// ParseHartRegister, GPR names first.
func HartRegisters() []HartRegister {
	r := make([]HartRegister, len(hartRegisters))
	copy(r, hartRegisters)
	return r
}

// ParseHartRegister resolves a register name (x5, t0, pc, dcsr...) or a
// raw register number (0x1005) to a register number.
func ParseHartRegister(s string) (uint16, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, r := range hartRegisters {
		if r.Name == name {
			return r.Regno, nil
		}
	}
	v, err := strconv.ParseUint(name, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	return uint16(v), nil
}

// GPRName returns the ABI name of xn.
func GPRName(n int) string {
	if n < 0 || n >= NumGPRs {
		return ""
	}
	return abiNames[n]
}
