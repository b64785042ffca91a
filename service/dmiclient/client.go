// Package dmiclient is a client for the DMI socket protocol.
//
// It behaves like socket based debug transport drivers: the connection is
// established on first use and every request waits for its response.
package dmiclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/pkg/dmi"
	"github.com/dmisim/dmisim/pkg/logflags"
	"github.com/dmisim/dmisim/service"
)

// ResponseError is returned when the server answers with an error status.
type ResponseError struct {
	Request dmi.Request
	Status  byte
}

func (err *ResponseError) Error() string {
	return fmt.Sprintf("%s: server returned status %#02x", err.Request, err.Status)
}

// CommandError is returned when an abstract command sets cmderr.
type CommandError struct {
	Command dm.AccessRegister
	CmdErr  dm.CmdErr
}

func (err *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", err.Command, err.CmdErr)
}

// Client is a DMI socket client.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	log  logflags.Logger
}

var _ service.Client = &Client{}

// New returns a client for the server at addr. No connection is made
// until the first request.
func New(addr string) *Client {
	return &Client{addr: addr, log: logflags.TerminalLogger()}
}

// NewWithConn returns a client using an established connection.
func NewWithConn(conn net.Conn) *Client {
	c := New(conn.RemoteAddr().String())
	c.conn = conn
	return c
}

// SetTimeout bounds dialing and every request/response exchange.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	var (
		conn net.Conn
		err  error
	)
	if c.timeout > 0 {
		conn, err = net.DialTimeout("tcp", c.addr, c.timeout)
	} else {
		conn, err = net.Dial("tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	c.log.Debugf("connected to %s", c.addr)
	c.conn = conn
	return nil
}

// exec sends req and waits for its response. On transport errors the
// connection is dropped and the next request reconnects.
func (c *Client) exec(req dmi.Request) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return 0, err
	}
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	buf, _ := req.MarshalBinary()
	if logflags.Terminal() {
		c.log.Debugf("-> % x", buf)
	}
	if _, err := c.conn.Write(buf); err != nil {
		c.drop()
		return 0, err
	}
	resp, err := dmi.ReadResponse(c.conn)
	if err != nil {
		c.drop()
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	if logflags.Terminal() {
		c.log.Debugf("<- %02x %08x", resp.Status, resp.Value)
	}
	if resp.Status != dmi.StatusOK {
		return 0, &ResponseError{Request: req, Status: resp.Status}
	}
	return resp.Value, nil
}

func (c *Client) drop() {
	c.conn.Close()
	c.conn = nil
}

// Read returns the value of the DMI register at addr.
func (c *Client) Read(addr uint32) (uint32, error) {
	return c.exec(dmi.Request{Op: dmi.OpRead, Addr: addr, LenHint: dmi.DefaultLenHint})
}

// Write stores value in the DMI register at addr.
func (c *Client) Write(addr, value uint32) error {
	_, err := c.exec(dmi.Request{Op: dmi.OpWrite, Addr: addr, LenHint: dmi.DefaultLenHint, Value: value})
	return err
}

// command writes cmd to COMMAND and checks cmderr. A failed command has
// its cmderr cleared before returning.
func (c *Client) command(cmd dm.AccessRegister) error {
	if err := c.Write(dm.AddrCommand, cmd.Encode()); err != nil {
		return err
	}
	cs, err := c.Read(dm.AddrAbstractCS)
	if err != nil {
		return err
	}
	cmderr := dm.CmdErr(cs & 0x7)
	if cmderr == dm.CmdErrNone {
		return nil
	}
	if err := c.Write(dm.AddrAbstractCS, cs&^0x7); err != nil {
		return err
	}
	return &CommandError{Command: cmd, CmdErr: cmderr}
}

// ReadRegister reads hart register regno through Data0.
func (c *Client) ReadRegister(regno uint16) (uint32, error) {
	err := c.command(dm.AccessRegister{Transfer: true, Size: dm.AccessSize32, Regno: regno})
	if err != nil {
		return 0, err
	}
	return c.Read(dm.AddrData0)
}

// WriteRegister writes value to hart register regno through Data0.
func (c *Client) WriteRegister(regno uint16, value uint32) error {
	if err := c.Write(dm.AddrData0, value); err != nil {
		return err
	}
	return c.command(dm.AccessRegister{Write: true, Transfer: true, Size: dm.AccessSize32, Regno: regno})
}

// DebugRequest writes DMCONTROL with the debug request bit set.
func (c *Client) DebugRequest() error {
	return c.Write(dm.AddrDMControl, dm.ControlDebugReq)
}

// HaltRequest writes DMCONTROL with the halt request bit set.
func (c *Client) HaltRequest() error {
	return c.Write(dm.AddrDMControl, dm.ControlHaltReq)
}

// ResetHart writes DMCONTROL with the hart reset bit set.
func (c *Client) ResetHart() error {
	return c.Write(dm.AddrDMControl, dm.ControlHartReset)
}

// AckReset writes DMCONTROL with the reset acknowledge bit set.
func (c *Client) AckReset() error {
	return c.Write(dm.AddrDMControl, dm.ControlAckReset)
}

// Status reads DMSTATUS.
func (c *Client) Status() (uint32, error) {
	return c.Read(dm.AddrDMStatus)
}

// Close closes the connection, if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
