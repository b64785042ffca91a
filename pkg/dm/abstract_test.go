package dm

import "testing"

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		word uint32
		want AccessRegister
	}{
		{0x00000000, AccessRegister{}},
		{0x00821005, AccessRegister{Write: true, Size: 2, Regno: 0x1005}},
		{0x009207b0, AccessRegister{Write: true, Transfer: true, Size: 2, Regno: 0x07b0}},
		{0x00180300, AccessRegister{PostExec: true, Transfer: true, Regno: 0x0300}},
		{0x01000000, AccessRegister{CmdType: 1}},
	}
	for _, tc := range tests {
		got := DecodeCommand(tc.word)
		if got != tc.want {
			t.Errorf("%#08x: expected %+v got %+v", tc.word, tc.want, got)
		}
		if enc := tc.want.Encode(); enc != tc.word {
			t.Errorf("%+v: expected encoding %#08x got %#08x", tc.want, tc.word, enc)
		}
	}
}

func execute(e *CommandEngine, rf *RegisterFile, cmd AccessRegister) CmdErr {
	return e.Execute(cmd.Encode(), rf)
}

func TestEngineTargets(t *testing.T) {
	e := NewCommandEngine()
	rf := NewRegisterFile(DefaultRegisters, nil)

	rf.Write(AddrData0, 0x80000000)
	execute(e, rf, AccessRegister{Write: true, Transfer: true, Regno: RegnoDPC})
	if e.DPC() != 0x80000000 {
		t.Fatalf("dpc: expected 0x80000000 got %#x", e.DPC())
	}

	rf.Write(AddrData0, 0x4000b003)
	execute(e, rf, AccessRegister{Write: true, Transfer: true, Regno: RegnoMISA})
	if e.DCSR() != 0x4000b003 {
		t.Fatalf("write to 0x301 should land in dcsr, got %#x", e.DCSR())
	}

	rf.Write(AddrData0, 0x55)
	execute(e, rf, AccessRegister{Write: true, Transfer: true, Regno: RegnoGPRLast})
	if e.GPR(31) != 0x55 {
		t.Fatalf("x31: expected 0x55 got %#x", e.GPR(31))
	}

	reads := []struct {
		regno uint16
		want  uint32
	}{
		{RegnoDPC, 0x80000000},
		{RegnoDCSR, 0x4000b003},
		{RegnoGPRLast, 0x55},
		{RegnoMstatus, 0x00000200},
		{RegnoMISA, 0x00331008},
	}
	for _, r := range reads {
		rf.Write(AddrData0, 0)
		if cmderr := execute(e, rf, AccessRegister{Transfer: true, Regno: r.regno}); cmderr != CmdErrNone {
			t.Fatalf("%#x: unexpected cmderr %s", r.regno, cmderr)
		}
		if v, _ := rf.Read(AddrData0); v != r.want {
			t.Fatalf("%#x: expected %#x got %#x", r.regno, r.want, v)
		}
	}
}

func TestEngineInitialState(t *testing.T) {
	e := NewCommandEngine()
	if e.DCSR() != 0x40000003 || e.DPC() != 0 {
		t.Fatalf("unexpected reset state dcsr=%#x dpc=%#x", e.DCSR(), e.DPC())
	}
	for i := 0; i < NumGPRs; i++ {
		if e.GPR(i) != 0 {
			t.Fatalf("x%d not zero", i)
		}
	}
}

func TestEngineUnimplementedTarget(t *testing.T) {
	e := NewCommandEngine()
	rf := NewRegisterFile(DefaultRegisters, nil)
	rf.Write(AddrData0, 0x1234)
	if cmderr := execute(e, rf, AccessRegister{Transfer: true, Regno: 0x0c00}); cmderr != CmdErrNone {
		t.Fatalf("unimplemented register should not fail, got %s", cmderr)
	}
	if v, _ := rf.Read(AddrData0); v != 0x1234 {
		t.Fatalf("data0 modified by unimplemented read: %#x", v)
	}
	if cmderr := execute(e, rf, AccessRegister{Write: true, Transfer: true, Regno: 0x0c00}); cmderr != CmdErrNone {
		t.Fatalf("unimplemented register should not fail, got %s", cmderr)
	}
}

func TestEngineNoTransfer(t *testing.T) {
	e := NewCommandEngine()
	rf := NewRegisterFile(DefaultRegisters, nil)
	rf.Write(AddrData0, 0x99)
	execute(e, rf, AccessRegister{Write: true, PostExec: true, Regno: RegnoGPRBase + 3})
	if e.GPR(3) != 0 {
		t.Fatalf("write without transfer moved data: %#x", e.GPR(3))
	}
}

func TestEngineUnsupportedType(t *testing.T) {
	e := NewCommandEngine()
	rf := NewRegisterFile(DefaultRegisters, nil)
	for _, typ := range []uint8{1, 2, 0xff} {
		rf.Write(AddrData0, 0x77)
		cmderr := execute(e, rf, AccessRegister{CmdType: typ, Write: true, Transfer: true, Regno: RegnoGPRBase})
		if cmderr != CmdErrNotSupported {
			t.Fatalf("type %d: expected cmderr 7 got %d", typ, cmderr)
		}
		if e.GPR(0) != 0 {
			t.Fatalf("type %d: unsupported command moved data", typ)
		}
	}
}
