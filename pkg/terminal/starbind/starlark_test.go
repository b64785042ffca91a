package starbind

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/service"
)

// fakeClient stores DMI registers and hart registers in maps.
type fakeClient struct {
	dmi  map[uint32]uint32
	regs map[uint16]uint32
}

func newFakeClient() *fakeClient {
	return &fakeClient{dmi: map[uint32]uint32{}, regs: map[uint16]uint32{}}
}

func (c *fakeClient) Read(addr uint32) (uint32, error) { return c.dmi[addr], nil }
func (c *fakeClient) Write(addr, value uint32) error {
	c.dmi[addr] = value
	return nil
}
func (c *fakeClient) ReadRegister(regno uint16) (uint32, error) { return c.regs[regno], nil }
func (c *fakeClient) WriteRegister(regno uint16, value uint32) error {
	c.regs[regno] = value
	return nil
}
func (c *fakeClient) DebugRequest() error     { return c.Write(dm.AddrDMControl, dm.ControlDebugReq) }
func (c *fakeClient) HaltRequest() error      { return c.Write(dm.AddrDMControl, dm.ControlHaltReq) }
func (c *fakeClient) ResetHart() error        { return c.Write(dm.AddrDMControl, dm.ControlHartReset) }
func (c *fakeClient) AckReset() error         { return c.Write(dm.AddrDMControl, dm.ControlAckReset) }
func (c *fakeClient) Status() (uint32, error) { return c.Read(dm.AddrDMStatus) }
func (c *fakeClient) Close() error            { return nil }

type fakeContext struct {
	client   *fakeClient
	cmds     map[string]func(string) error
	commands []string
}

func (ctx *fakeContext) Client() service.Client { return ctx.client }

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.cmds[name] = fn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.commands = append(ctx.commands, cmdstr)
	return nil
}

func newTestEnv() (*Env, *fakeContext, *bytes.Buffer) {
	ctx := &fakeContext{client: newFakeClient(), cmds: map[string]func(string) error{}}
	out := new(bytes.Buffer)
	return New(ctx, out), ctx, out
}

func TestDMIBuiltins(t *testing.T) {
	env, ctx, out := newTestEnv()
	_, err := env.Execute("test.star", `
dmi_write(0x38, 0x20040404)
print(dmi_read(0x38) == 0x20040404)
reg_write("a0", 7)
reg_write(0x1005, 9)
print(reg_read("x10"), reg_read("t0"))
dmi_command("status")
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "True\n7 9\n" {
		t.Fatalf("unexpected output %q", got)
	}
	if ctx.client.dmi[dm.AddrSBCS] != 0x20040404 {
		t.Fatalf("sbcs not written: %#x", ctx.client.dmi[dm.AddrSBCS])
	}
	if len(ctx.commands) != 1 || ctx.commands[0] != "status" {
		t.Fatalf("unexpected commands %q", ctx.commands)
	}
}

func TestDMIBuiltinErrors(t *testing.T) {
	for _, src := range []string{
		`dmi_read("x")`,
		`dmi_write(0x38, 0x100000000)`,
		`dmi_write(0x38, -1)`,
		`reg_read("y9")`,
		`reg_read(0x10000)`,
	} {
		env, _, _ := newTestEnv()
		if _, err := env.Execute("test.star", src, nil); err == nil {
			t.Errorf("%s: expected an error", src)
		}
	}
}

func TestStatusBuiltin(t *testing.T) {
	env, ctx, out := newTestEnv()
	ctx.client.dmi[dm.AddrDMStatus] = dm.StatusSteady
	_, err := env.Execute("test.star", `
st = dmi_status()
print(st["value"] == 0x00030382)
print(st["flags"])
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "True\n" + `["authenticated", "anyhalted", "allhalted", "anyresumeack", "allresumeack"]` + "\n"
	if got := out.String(); got != want {
		t.Fatalf("got %q expected %q", got, want)
	}
}

func TestMainArgs(t *testing.T) {
	env, _, out := newTestEnv()
	_, err := env.Execute("test.star", `
def main(*args):
    print(len(args), " ".join(args))
`, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "2 a b\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCommandRegistration(t *testing.T) {
	env, ctx, out := newTestEnv()
	_, err := env.Execute("test.star", `
def command_touch(args):
    dmi_write(0x05, int(args))

def command_noargs():
    print("ok")

Exported = 3
private = 4
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.cmds["touch"]("12"); err != nil {
		t.Fatal(err)
	}
	if ctx.client.dmi[dm.AddrData1] != 12 {
		t.Fatalf("command did not run: %#x", ctx.client.dmi[dm.AddrData1])
	}
	if err := ctx.cmds["noargs"](""); err != nil {
		t.Fatal(err)
	}
	if out.String() != "ok\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if _, ok := env.env["Exported"]; !ok {
		t.Fatal("capitalized global not exported")
	}
	if _, ok := env.env["private"]; ok {
		t.Fatal("lowercase global exported")
	}
}

type linePrompter struct {
	lines   []string
	history []string
}

func (p *linePrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	l := p.lines[0]
	p.lines = p.lines[1:]
	return l, nil
}

func (p *linePrompter) AppendHistory(item string) { p.history = append(p.history, item) }

func TestInteract(t *testing.T) {
	env, ctx, out := newTestEnv()
	ctx.client.dmi[dm.AddrDMControl] = dm.ControlActive
	rl := &linePrompter{lines: []string{
		"dmi_read(0x10)",
		"Saved = dmi_read(0x10) + 1",
		"undefined_name",
		"exit",
	}}
	if err := env.Interact(rl); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(out.String(), "\n")
	if lines[0] != "65" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(out.String(), "undefined") {
		t.Fatalf("error not printed in %q", out.String())
	}
	if v, ok := env.env["Saved"]; !ok || v.String() != "66" {
		t.Fatalf("global not exported: %v", v)
	}
	if len(rl.history) != 3 {
		t.Fatalf("unexpected history %q", rl.history)
	}
}

func TestCancel(t *testing.T) {
	env, _, _ := newTestEnv()
	done := make(chan error)
	go func() {
		_, err := env.Execute("test.star", `
def main():
    for i in range(1000):
        sleep(10)
`, nil)
		done <- err
	}()
	for {
		env.contextMu.Lock()
		started := env.thread != nil
		env.contextMu.Unlock()
		if started {
			break
		}
	}
	env.Cancel()
	if err := <-done; err == nil {
		t.Fatal("cancelled script returned no error")
	}
}
