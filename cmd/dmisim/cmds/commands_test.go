package cmds

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmisim/dmisim/pkg/config"
	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/service"
	"github.com/dmisim/dmisim/service/dmiserver"
)

func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := ioutil.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func startServer(t *testing.T) (string, *dmiserver.ServerImpl) {
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
	t.Cleanup(func() { s.Stop() })
	return listener.Addr().String(), s
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := New(false)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--config", emptyConfig(t), "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "dmisim\nVersion: ") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReadWrite(t *testing.T) {
	addr, s := startServer(t)
	cfg := emptyConfig(t)
	if _, err := run(t, "--config", cfg, "write", "--addr", addr, "sbcs", "0x1234"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Module().Peek(dm.AddrSBCS); v != 0x1234 {
		t.Fatalf("expected 0x1234 got %#x", v)
	}
	out, err := run(t, "--config", cfg, "read", "-a", addr, "sbcs")
	if err != nil {
		t.Fatal(err)
	}
	if out != "0x00001234\n" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := run(t, "--config", cfg, "read", "-a", addr, "0x40"); err == nil {
		t.Fatal("read of an unmapped address succeeded")
	}
	if _, err := run(t, "--config", cfg, "write", "-a", addr, "sbcs"); err == nil {
		t.Fatal("write without a value succeeded")
	}
}

func TestScript(t *testing.T) {
	addr, s := startServer(t)
	script := filepath.Join(t.TempDir(), "poke.star")
	const src = "def main(v):\n    dmi_write(0x05, int(v))\n"
	if err := ioutil.WriteFile(script, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", emptyConfig(t), "script", "-a", addr, script, "77"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Module().Peek(dm.AddrData1); v != 77 {
		t.Fatalf("expected 77 got %d", v)
	}
}

func TestMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yml")
	if _, err := run(t, "--config", missing, "version"); err == nil {
		t.Fatal("missing configuration file accepted")
	}
}

func TestServerConfig(t *testing.T) {
	root := New(false)
	cmd, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatal(err)
	}
	conf = &config.Config{
		Listen:        "127.0.0.1:6000",
		IdleTimeout:   time.Minute,
		SessionScope:  "process",
		PeerCacheSize: 4,
		StaticReads:   true,
		Registers:     map[string]string{"abstractcs": "0x02000002"},
	}

	listen, cfg, err := serverConfig(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if listen != "127.0.0.1:6000" {
		t.Errorf("listen address %q", listen)
	}
	if cfg.SessionScope != service.ScopeProcess || cfg.IdleTimeout != time.Minute || cfg.PeerCacheSize != 4 {
		t.Errorf("configuration not applied: %+v", cfg)
	}
	if v, _ := cfg.Module.Peek(dm.AddrAbstractCS); v != 0x02000002 {
		t.Errorf("initial abstractcs %#x", v)
	}
	if v, _ := cfg.Module.Read(dm.NewSequenceState(), dm.AddrDMStatus); v != 0x0202 {
		t.Errorf("static reads not applied, dmstatus %#x", v)
	}

	if err := cmd.ParseFlags([]string{"--listen", "127.0.0.1:7000", "--session-scope", "peer", "--idle-timeout", "5s", "--static-reads=false"}); err != nil {
		t.Fatal(err)
	}
	listen, cfg, err = serverConfig(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if listen != "127.0.0.1:7000" {
		t.Errorf("listen address %q", listen)
	}
	if cfg.SessionScope != service.ScopePeer || cfg.IdleTimeout != 5*time.Second {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if v, _ := cfg.Module.Read(dm.NewSequenceState(), dm.AddrDMStatus); v != dm.StatusHaltedAfterReset {
		t.Errorf("sequenced reads not restored, dmstatus %#x", v)
	}

	conf = &config.Config{SessionScope: "bogus"}
	root = New(false)
	cmd, _, _ = root.Find([]string{"serve"})
	if _, _, err := serverConfig(cmd); err == nil {
		t.Fatal("invalid session scope accepted")
	}
	if err := cmd.ParseFlags([]string{"--session-scope", "nope"}); err == nil {
		t.Fatal("invalid --session-scope accepted")
	}
}
