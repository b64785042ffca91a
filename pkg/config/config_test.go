package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFile)
	if err := ioutil.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFrom(t *testing.T) {
	path := writeFile(t, `
listen: 0.0.0.0:6666
idle-timeout: 30s
session-scope: peer
peer-cache-size: 4
static-reads: true
registers:
  abstractcs: 0x02000002
  0x40: 7
aliases:
  read: ["rd"]
max-history: 10
`)
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.ListenAddr() != "0.0.0.0:6666" || c.IdleTimeout != 30*time.Second {
		t.Fatalf("unexpected listen/timeout %q %v", c.ListenAddr(), c.IdleTimeout)
	}
	if c.Scope() != "peer" || c.PeerCacheSize != 4 || !c.StaticReads {
		t.Fatalf("unexpected session options %+v", c)
	}
	if c.HistoryLen() != 10 {
		t.Fatalf("expected history length 10 got %d", c.HistoryLen())
	}
	if len(c.Aliases["read"]) != 1 || c.Aliases["read"][0] != "rd" {
		t.Fatalf("unexpected aliases %v", c.Aliases)
	}

	vals, err := c.InitialValues()
	if err != nil {
		t.Fatal(err)
	}
	if vals[0x16] != 0x02000002 || vals[0x40] != 7 || len(vals) != 2 {
		t.Fatalf("unexpected initial values %v", vals)
	}
}

func TestDefaults(t *testing.T) {
	var c Config
	if c.ListenAddr() != DefaultListen || c.Scope() != DefaultSessionScope || c.HistoryLen() != DefaultMaxHistory {
		t.Fatalf("unexpected defaults %q %q %d", c.ListenAddr(), c.Scope(), c.HistoryLen())
	}
	if vals, err := c.InitialValues(); vals != nil || err != nil {
		t.Fatalf("expected no initial values, got %v %v", vals, err)
	}
}

func TestInitialValuesErrors(t *testing.T) {
	for _, regs := range []map[string]string{
		{"nosuchregister": "1"},
		{"0x10": "0x1ffffffff"},
		{"dmstatus": "abc"},
	} {
		c := Config{Registers: regs}
		if _, err := c.InitialValues(); err == nil {
			t.Errorf("%v: expected error", regs)
		}
	}
}

func TestParseUint32(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"0x16", 0x16},
		{"22", 22},
		{"0b101", 5},
		{" 0xffffffff ", 0xffffffff},
	}
	for _, tc := range tests {
		got, err := ParseUint32(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %#x got %#x", tc.in, tc.want, got)
		}
	}
}

func TestDefaultConfigDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	if err := createDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("default config does not decode: %v", err)
	}
	if c.Listen != "" || len(c.Registers) != 0 {
		t.Fatalf("default config should leave options unset: %+v", c)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	path, err := GetConfigFilePath(configFile)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "dmisim", configFile) {
		t.Fatalf("unexpected config path %q", path)
	}
	if err := createConfigPath(); err != nil {
		t.Fatal(err)
	}
	want := &Config{Listen: "127.0.0.1:7777", WriteTimeout: 2 * time.Second, Registers: map[string]string{"data1": "0x5"}}
	if err := SaveConfig(want); err != nil {
		t.Fatal(err)
	}
	got := LoadConfig()
	if got.Listen != want.Listen || got.WriteTimeout != want.WriteTimeout || got.Registers["data1"] != "0x5" {
		t.Fatalf("expected %+v got %+v", want, got)
	}
}
