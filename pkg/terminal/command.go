// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/dmisim/dmisim/pkg/config"
	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/service"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	// register is set for commands whose arguments start with a hart
	// register name.
	register bool
	helpMsg  string
	cmdFn    cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the dmisim terminal.
type Commands struct {
	cmds   []command
	client service.Client
	// names maps every alias to its index in cmds.
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"read", "r"}, group: dmiCmds, cmdFn: readCommand, helpMsg: `Reads a DMI register.

	read <address>

The address is a number (0x11) or a register name (dmstatus). Reads of
DMSTATUS and DMCONTROL advance the read sequence of this connection.`},
		{aliases: []string{"write", "w"}, group: dmiCmds, cmdFn: writeCommand, helpMsg: `Writes a DMI register.

	write <address> <value>

Writes to DMCONTROL update DMSTATUS, writes to COMMAND run an abstract command.`},
		{aliases: []string{"status", "st"}, group: dmiCmds, cmdFn: statusCommand, helpMsg: `Reads and decodes DMSTATUS.`},
		{aliases: []string{"debugreq"}, group: hartCmds, cmdFn: controlCommand("debugreq", service.Client.DebugRequest), helpMsg: `Writes DMCONTROL with the debug request bit (31) set.`},
		{aliases: []string{"haltreq"}, group: hartCmds, cmdFn: controlCommand("haltreq", service.Client.HaltRequest), helpMsg: `Writes DMCONTROL with the halt request bit (30) set.`},
		{aliases: []string{"reset"}, group: hartCmds, cmdFn: controlCommand("reset", service.Client.ResetHart), helpMsg: `Writes DMCONTROL with the hart reset bit (0) set.`},
		{aliases: []string{"ackreset"}, group: hartCmds, cmdFn: controlCommand("ackreset", service.Client.AckReset), helpMsg: `Writes DMCONTROL with the reset acknowledge bit (1) set.`},
		{aliases: []string{"reg"}, group: hartCmds, register: true, cmdFn: regCommand, helpMsg: `Reads or writes a hart register through abstract commands.

	reg <register> [value]

Registers can be named x0-x31, by ABI name (sp, a0, t1...), pc/dpc, dcsr,
mstatus, misa or given as a register number (0x1005).`},
		{aliases: []string{"regs"}, group: hartCmds, cmdFn: regsCommand, helpMsg: `Prints the general purpose registers, dpc and dcsr.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path> [args...]

If path ends with the .star extension it will be interpreted as a
starlark script, its main function is called with args. If path is a
single '-' character an interactive starlark interpreter is started
instead. Type 'exit' or press Ctrl-D to exit.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the terminal.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

// index rebuilds the alias trie.
func (c *Commands) index() {
	c.names = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.names.Add(alias, i)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.index()
}

var errAmbiguousCommand = errors.New("ambiguous command")

// lookup returns the command for cmdstr. Unambiguous prefixes of an alias
// select its command.
func (c *Commands) lookup(cmdstr string) (*command, error) {
	if node, ok := c.names.Find(cmdstr); ok {
		return &c.cmds[node.Meta().(int)], nil
	}
	var found *command
	for _, alias := range c.names.PrefixSearch(cmdstr) {
		node, _ := c.names.Find(alias)
		cmd := &c.cmds[node.Meta().(int)]
		if found != nil && found != cmd {
			return nil, fmt.Errorf("%w %q: %s", errAmbiguousCommand, cmdstr, strings.Join(c.complete(cmdstr), ", "))
		}
		found = cmd
	}
	if found == nil {
		return nil, noCmdError
	}
	return found, nil
}

// Find will look up the command function for the given command input.
// If it cannot find the command the returned function reports why.
// If the command is an empty string it does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	cmd, err := c.lookup(cmdstr)
	if err != nil {
		return func(*Term, string) error { return err }
	}
	return cmd.cmdFn
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.index()
}

// complete returns the aliases starting with prefix, sorted.
func (c *Commands) complete(prefix string) []string {
	r := c.names.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}

// takesRegister reports whether the arguments of cmdstr start with a hart
// register name.
func (c *Commands) takesRegister(cmdstr string) bool {
	cmd, err := c.lookup(cmdstr)
	return err == nil && cmd.register
}

var noCmdError = errors.New("command not available")

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		cmd, err := c.lookup(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(t.stdout, cmd.helpMsg)
		return nil
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func wantArgs(args string, min, max int, usage string) ([]string, error) {
	w, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	if len(w) < min || len(w) > max {
		return nil, fmt.Errorf("wrong number of arguments, usage: %s", usage)
	}
	return w, nil
}

func registerName(addr uint32) string {
	if r, ok := dm.LookupRegister(addr); ok {
		return fmt.Sprintf("%s (%#x)", r.Name, addr)
	}
	return fmt.Sprintf("%#x", addr)
}

func readCommand(t *Term, args string) error {
	w, err := wantArgs(args, 1, 1, "read <address>")
	if err != nil {
		return err
	}
	addr, err := config.ParseAddress(w[0])
	if err != nil {
		return err
	}
	v, err := t.client.Read(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s = %#08x\n", registerName(addr), v)
	return nil
}

func writeCommand(t *Term, args string) error {
	w, err := wantArgs(args, 2, 2, "write <address> <value>")
	if err != nil {
		return err
	}
	addr, err := config.ParseAddress(w[0])
	if err != nil {
		return err
	}
	v, err := config.ParseUint32(w[1])
	if err != nil {
		return err
	}
	return t.client.Write(addr, v)
}

func (t *Term) printStatus(v uint32) {
	s := dm.DecodeStatus(v)
	fmt.Fprintf(t.stdout, "dmstatus = %#08x version=%d\n", v, s.Version)
	if flags := s.Flags(); len(flags) > 0 {
		fmt.Fprintf(t.stdout, "\t%s\n", t.colorize(ansiGreen, strings.Join(flags, " ")))
	}
}

func statusCommand(t *Term, args string) error {
	if _, err := wantArgs(args, 0, 0, "status"); err != nil {
		return err
	}
	v, err := t.client.Status()
	if err != nil {
		return err
	}
	t.printStatus(v)
	return nil
}

func controlCommand(name string, fn func(service.Client) error) cmdfunc {
	return func(t *Term, args string) error {
		if _, err := wantArgs(args, 0, 0, name); err != nil {
			return err
		}
		return fn(t.client)
	}
}

func regCommand(t *Term, args string) error {
	w, err := wantArgs(args, 1, 2, "reg <register> [value]")
	if err != nil {
		return err
	}
	regno, err := dm.ParseHartRegister(w[0])
	if err != nil {
		return err
	}
	if len(w) == 2 {
		v, err := config.ParseUint32(w[1])
		if err != nil {
			return err
		}
		return t.client.WriteRegister(regno, v)
	}
	v, err := t.client.ReadRegister(regno)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s = %#08x\n", w[0], v)
	return nil
}

func regsCommand(t *Term, args string) error {
	if _, err := wantArgs(args, 0, 0, "regs"); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for i := 0; i < dm.NumGPRs; i++ {
		v, err := t.client.ReadRegister(dm.RegnoGPRBase + uint16(i))
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "x%d\t%s\t= %#08x\n", i, dm.GPRName(i), v)
	}
	for _, r := range []struct {
		name  string
		regno uint16
	}{{"dpc", dm.RegnoDPC}, {"dcsr", dm.RegnoDCSR}} {
		v, err := t.client.ReadRegister(r.regno)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t\t= %#08x\n", r.name, v)
	}
	return tw.Flush()
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	w, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(w) < 1 {
		return fmt.Errorf("wrong number of arguments: source <filename> [args...]")
	}

	return c.source(t, w[0], w[1:])
}

func (c *Commands) source(t *Term, name string, args []string) error {
	if name == "-" {
		return t.starlarkEnv.REPL()
	}

	if filepath.Ext(name) == ".star" {
		_, err := t.starlarkEnv.Execute(name, nil, args)
		return err
	}

	if len(args) > 0 {
		return fmt.Errorf("arguments are only supported for starlark scripts")
	}
	return c.executeFile(t, name)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
