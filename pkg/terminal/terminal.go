package terminal

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/dmisim/dmisim/pkg/config"
	"github.com/dmisim/dmisim/pkg/logflags"
	"github.com/dmisim/dmisim/pkg/terminal/starbind"
	"github.com/dmisim/dmisim/service"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiGreen = 32
	ansiBlue  = 34
)

// Term represents the terminal running dmisim connect.
type Term struct {
	client   service.Client
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string
	log      logflags.Logger

	starlarkEnv *starbind.Env
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	cmds := DebugCommands(client)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		client: client,
		conf:   conf,
		prompt: "(dmi) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		log:    logflags.TerminalLogger(),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t)
	return t
}

// Write implements io.Writer so starlark output reaches the terminal.
func (t *Term) Write(p []byte) (int, error) {
	return t.stdout.Write(p)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintln(t.stdout, "received SIGINT, type 'exit' to quit")
	}
}

// Run begins running the terminal, it returns the exit status.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(config.HistoryFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Source runs the command file or starlark script at path, like the
// source command. Args are passed to the main function of scripts.
func (t *Term) Source(path string, args []string) error {
	return t.cmds.source(t, path, args)
}

// complete proposes command names for the first word of line and
// register names for the arguments of register commands.
func (t *Term) complete(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(line, " ")) {
		return t.cmds.complete(strings.ToLower(line))
	}
	if !t.cmds.takesRegister(fields[0]) {
		return nil
	}
	prefix := ""
	if !strings.HasSuffix(line, " ") {
		prefix = fields[len(fields)-1]
		fields = fields[:len(fields)-1]
	}
	head := strings.Join(fields, " ") + " "
	var r []string
	for _, name := range completeRegister(strings.ToLower(prefix)) {
		r = append(r, head+name)
	}
	return r
}

// colorize wraps str in the escape codes for color, unless the terminal
// is dumb.
func (t *Term) colorize(color int, str string) string {
	if t.dumb {
		return str
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + str + terminalResetEscapeCode
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(ansiBlue, prefix), str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(config.HistoryFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		var buf bytes.Buffer
		if _, err := t.line.WriteHistory(&buf); err != nil {
			fmt.Println("readline history error:", err)
		} else if err := ioutil.WriteFile(fullHistoryFile, lastLines(buf.Bytes(), t.conf.HistoryLen()), 0666); err != nil {
			fmt.Println("Error saving history file:", err)
		}
	}

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.log.Debugf("closing connection: %v", err)
		}
	}
	return 0, nil
}

// lastLines returns the last n lines of history.
func lastLines(history []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	lines := bytes.SplitAfter(history, []byte("\n"))
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return bytes.Join(lines, nil)
}
