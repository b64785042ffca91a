package dmiclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/service"
	"github.com/dmisim/dmisim/service/dmiserver"
)

func withServer(t *testing.T, fn func(c *Client, s *dmiserver.ServerImpl)) {
	t.Helper()
	listener, err := dmiserver.Listen(context.Background(), "127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("couldn't start listener: %s\n", err)
	}
	s, err := dmiserver.NewServer(&service.Config{Listener: listener})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	c := New(listener.Addr().String())
	c.SetTimeout(5 * time.Second)
	defer c.Close()
	fn(c, s)
}

func TestClientReadWrite(t *testing.T) {
	withServer(t, func(c *Client, s *dmiserver.ServerImpl) {
		if err := c.Write(dm.AddrSBCS, 0x20040404); err != nil {
			t.Fatal(err)
		}
		v, err := c.Read(dm.AddrSBCS)
		if err != nil {
			t.Fatal(err)
		}
		if v != 0x20040404 {
			t.Fatalf("expected 0x20040404 got %#x", v)
		}
	})
}

func TestClientResponseError(t *testing.T) {
	withServer(t, func(c *Client, s *dmiserver.ServerImpl) {
		_, err := c.Read(0x7f)
		var rerr *ResponseError
		if !errors.As(err, &rerr) {
			t.Fatalf("expected *ResponseError got %v", err)
		}
		if rerr.Request.Addr != 0x7f {
			t.Fatalf("unexpected request in error: %v", rerr.Request)
		}
		// the connection survives the error
		if v, err := c.Read(dm.AddrDTMCSDebugOffset); err != nil || v != 0x61 {
			t.Fatalf("expected 0x61 got %#x %v", v, err)
		}
	})
}

func TestClientRegisters(t *testing.T) {
	withServer(t, func(c *Client, s *dmiserver.ServerImpl) {
		regs := []struct {
			regno uint16
			value uint32
		}{
			{dm.RegnoGPRBase + 5, 0x1234},
			{dm.RegnoDPC, 0x80000100},
			{dm.RegnoDCSR, 0x4000b007},
		}
		for _, r := range regs {
			if err := c.WriteRegister(r.regno, r.value); err != nil {
				t.Fatalf("%#x: %v", r.regno, err)
			}
			v, err := c.ReadRegister(r.regno)
			if err != nil {
				t.Fatalf("%#x: %v", r.regno, err)
			}
			if v != r.value {
				t.Fatalf("%#x: expected %#x got %#x", r.regno, r.value, v)
			}
		}
		if h := s.Module().Hart(); h.GPRs[5] != 0x1234 || h.DPC != 0x80000100 {
			t.Fatalf("unexpected hart state %+v", h)
		}
		v, err := c.ReadRegister(dm.RegnoMISA)
		if err != nil || v != 0x00331008 {
			t.Fatalf("misa: expected 0x00331008 got %#x %v", v, err)
		}
	})
}

func TestClientCommandError(t *testing.T) {
	withServer(t, func(c *Client, s *dmiserver.ServerImpl) {
		err := c.command(dm.AccessRegister{CmdType: 2, Transfer: true, Regno: dm.RegnoDPC})
		var cerr *CommandError
		if !errors.As(err, &cerr) || cerr.CmdErr != dm.CmdErrNotSupported {
			t.Fatalf("expected not supported command error, got %v", err)
		}
		cs, err := c.Read(dm.AddrAbstractCS)
		if err != nil {
			t.Fatal(err)
		}
		if cs&0x7 != 0 {
			t.Fatalf("cmderr not cleared: %#x", cs)
		}
	})
}

func TestClientControl(t *testing.T) {
	withServer(t, func(c *Client, s *dmiserver.ServerImpl) {
		if err := c.ResetHart(); err != nil {
			t.Fatal(err)
		}
		if v, _ := s.Module().Peek(dm.AddrDMStatus); v&0x400 == 0 {
			t.Fatalf("expected reset bit after ResetHart, dmstatus %#x", v)
		}
		if err := c.AckReset(); err != nil {
			t.Fatal(err)
		}
		if v, _ := s.Module().Peek(dm.AddrDMStatus); v&0x400 != 0 {
			t.Fatalf("expected reset bit cleared after AckReset, dmstatus %#x", v)
		}
		if err := c.HaltRequest(); err != nil {
			t.Fatal(err)
		}
		if err := c.DebugRequest(); err != nil {
			t.Fatal(err)
		}
		v, err := c.Status()
		if err != nil {
			t.Fatal(err)
		}
		if v != dm.StatusHaltedAfterReset {
			t.Fatalf("first status read: expected %#x got %#x", dm.StatusHaltedAfterReset, v)
		}
	})
}

func TestClientLazyConnect(t *testing.T) {
	c := New("127.0.0.1:1")
	c.SetTimeout(time.Second)
	if _, err := c.Read(dm.AddrDMStatus); err == nil {
		t.Fatal("expected connection error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close without connection: %v", err)
	}
}
