package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dmisim/dmisim/pkg/dm"
)

const (
	configDir       string = "dmisim"
	configDirHidden string = ".dmisim"
	configFile      string = "config.yml"

	// HistoryFile is the name of the REPL history file, stored next to
	// the configuration file.
	HistoryFile string = "history"
)

// Defaults used when the configuration file leaves an option unset.
const (
	DefaultListen       = "127.0.0.1:5555"
	DefaultSessionScope = "connection"
	DefaultMaxHistory   = 500
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Listen is the address the server listens on.
	Listen string `yaml:"listen,omitempty"`
	// IdleTimeout closes sessions that send nothing for this long.
	IdleTimeout time.Duration `yaml:"idle-timeout,omitempty"`
	// WriteTimeout bounds writing one batch of responses.
	WriteTimeout time.Duration `yaml:"write-timeout,omitempty"`

	// SessionScope is one of connection, peer or process.
	SessionScope string `yaml:"session-scope,omitempty"`
	// PeerCacheSize is the number of hosts remembered by the peer scope.
	PeerCacheSize int `yaml:"peer-cache-size,omitempty"`
	// StaticReads disables the read sequencing of DMSTATUS and DMCONTROL.
	StaticReads bool `yaml:"static-reads,omitempty"`

	// Registers overrides initial register values. Keys are addresses or
	// register names, values are numbers in any base strconv accepts.
	Registers map[string]string `yaml:"registers,omitempty"`

	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// MaxHistory is the number of REPL history lines kept on disk.
	MaxHistory *int `yaml:"max-history,omitempty"`
}

// ListenAddr returns the configured listen address or DefaultListen.
func (c *Config) ListenAddr() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}

// Scope returns the configured session scope or DefaultSessionScope.
func (c *Config) Scope() string {
	if c.SessionScope == "" {
		return DefaultSessionScope
	}
	return c.SessionScope
}

// HistoryLen returns the configured history length or DefaultMaxHistory.
func (c *Config) HistoryLen() int {
	if c.MaxHistory == nil {
		return DefaultMaxHistory
	}
	return *c.MaxHistory
}

// InitialValues converts Registers into initial values for dm.Config.
func (c *Config) InitialValues() (map[uint32]uint32, error) {
	if len(c.Registers) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(c.Registers))
	for k := range c.Registers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := make(map[uint32]uint32, len(keys))
	for _, k := range keys {
		addr, err := ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("registers: %v", err)
		}
		v, err := ParseUint32(c.Registers[k])
		if err != nil {
			return nil, fmt.Errorf("registers: %s: %v", k, err)
		}
		r[addr] = v
	}
	return r, nil
}

// ParseUint32 parses a 32 bit number written in any base strconv accepts
// ("0x16", "0b101", "22").
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseAddress parses a DMI address given either as a number or as the
// name of a register of dm.DefaultRegisters (case insensitive).
func ParseAddress(s string) (uint32, error) {
	for _, r := range dm.DefaultRegisters {
		if strings.EqualFold(r.Name, s) {
			return r.Addr, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	return uint32(v), nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads and decodes the configuration file at path.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %w", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigTo(conf, fullConfigFile)
}

// SaveConfigTo marshals conf and writes it to path.
func SaveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the dmisim debug module emulator.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address the server listens on.
# listen: 127.0.0.1:5555

# Close sessions that send nothing for this long, and bound the time spent
# writing responses. Durations use Go syntax (30s, 1m).
# idle-timeout: 5m
# write-timeout: 10s

# How DMSTATUS/DMCONTROL read counters are shared: connection (every
# connection starts over), peer (remembered per remote host) or process.
# session-scope: connection
# peer-cache-size: 16

# Uncomment to return stored register values instead of the sequenced ones.
# static-reads: true

# Initial register values, by address or by name.
registers:
  # ABSTRACTCS: 0x02000002

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Number of lines of command history kept between sessions.
# max-history: 500
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/dmisim is used when XDG_CONFIG_HOME is set, ~/.dmisim
// otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
