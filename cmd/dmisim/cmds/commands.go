package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmisim/dmisim/cmd/dmisim/cmds/helphelpers"
	"github.com/dmisim/dmisim/pkg/config"
	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/pkg/logflags"
	"github.com/dmisim/dmisim/pkg/terminal"
	"github.com/dmisim/dmisim/pkg/version"
	"github.com/dmisim/dmisim/service"
	"github.com/dmisim/dmisim/service/dmiclient"
	"github.com/dmisim/dmisim/service/dmiserver"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath replaces the default configuration file.
	configPath string

	// addr is the server listen address.
	addr string
	// sessionScope selects how read sequence counters are shared.
	sessionScope service.SessionScope
	// idleTimeout closes silent sessions.
	idleTimeout time.Duration
	// writeTimeout bounds writing one batch of responses.
	writeTimeout time.Duration
	// staticReads disables read sequencing.
	staticReads bool
	// reuseAddr sets SO_REUSEADDR on the listener.
	reuseAddr bool

	// serverAddr is the address the client commands connect to.
	serverAddr string
	// clientTimeout bounds every client request.
	clientTimeout time.Duration
	// initFile is the path to initialization file.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const dmisimCommandLongDesc = `dmisim emulates the Debug Module of a RISC-V hart.

The debug module is reached through the Debug Module Interface (DMI) over a
TCP socket, the way OpenOCD's socket DTM driver talks to a simulator. Each
request reads or writes one 32 bit DMI register. Writes to DMCONTROL update
DMSTATUS, writes to COMMAND run abstract register access commands and reads
of DMSTATUS and DMCONTROL walk the hart through reset, halt and resume.

Start the emulator with 'dmisim serve', then point a debugger at it or use
'dmisim connect' for an interactive session.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main dmisim root command.
	rootCommand = &cobra.Command{
		Use:   "dmisim",
		Short: "dmisim is a RISC-V debug module emulator.",
		Long:  dmisimCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dmisim help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dmisim help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, replaces the default one.")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Runs the debug module emulator.",
		Long: `Runs the debug module emulator.

The server accepts any number of DMI connections. Register state is shared
by every connection, read sequence counters are shared according to
--session-scope (see 'dmisim help session-scope'). The server runs until it
receives SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(serve(cmd))
		},
	}
	serveCommand.Flags().StringVarP(&addr, "listen", "l", config.DefaultListen, "Server listen address.")
	serveCommand.Flags().Var(&sessionScope, "session-scope", "How read sequence counters are shared: connection, peer or process.")
	serveCommand.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Close sessions that send nothing for this long (0 disables).")
	serveCommand.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "Bound the time spent writing responses (0 disables).")
	serveCommand.Flags().BoolVar(&staticReads, "static-reads", false, "Return stored values for DMSTATUS and DMCONTROL instead of sequenced ones.")
	serveCommand.Flags().BoolVar(&reuseAddr, "reuse-addr", true, "Set SO_REUSEADDR on the listening socket.")
	rootCommand.AddCommand(serveCommand)

	// 'read' subcommand.
	readCommand := &cobra.Command{
		Use:   "read <address>",
		Short: "Reads one DMI register.",
		Long: `Reads one DMI register of a running server and prints its value.

The address is a number or a register name (dmstatus, data0...).`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         readCmd,
	}
	rootCommand.AddCommand(readCommand)

	// 'write' subcommand.
	writeCommand := &cobra.Command{
		Use:          "write <address> <value>",
		Short:        "Writes one DMI register.",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         writeCmd,
	}
	rootCommand.AddCommand(writeCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Connect to a running server.",
		Long: `Connect to a running server and start an interactive session.

Without an address the listen address of the configuration is used.`,
		Args: cobra.MaximumNArgs(1),
		Run:  connectCmd,
	}
	connectCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.AddCommand(connectCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file.star> [args...]",
		Short: "Runs a starlark script against a running server.",
		Long: `Runs a starlark script against a running server.

The script can use the dmi_read, dmi_write, reg_read and reg_write builtins.
If it defines a main function, main is called with the remaining arguments.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         scriptCmd,
	}
	rootCommand.AddCommand(scriptCommand)

	for _, cmd := range []*cobra.Command{readCommand, writeCommand, connectCommand, scriptCommand} {
		cmd.Flags().StringVarP(&serverAddr, "addr", "a", "", "Server address, defaults to the configured listen address.")
		cmd.Flags().DurationVar(&clientTimeout, "timeout", 5*time.Second, "Timeout of each request.")
	}

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dmisim\n%s\n", version.DMISimVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	dmi		Log register reads, writes and their side effects
	abstract	Log abstract command decoding
	wire		Log a hex dump of every frame received and sent
	server		Log accepted connections and session lifecycle
	terminal	Log client and terminal activity

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "listening at" message of 'dmisim serve'.
`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "session-scope",
		Short: "Help about the --session-scope flag.",
		Long: `Reads of DMSTATUS and DMCONTROL return values that depend on how many
times the register was read before, emulating a hart that is halted after
reset and then settles. The --session-scope flag selects which connections
share these read counters, possible values are:

	connection	Every connection starts from zero (default).
	peer		Connections from the same remote host share counters,
			the number of hosts remembered is bounded by the
			peer-cache-size configuration option.
	process		All connections share one set of counters.

Register values are always shared by all connections.
`,
	})

	usage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		return usage(cmd)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func loadConfig() error {
	if configPath == "" {
		conf = config.LoadConfig()
		return nil
	}
	c, err := config.LoadConfigFrom(configPath)
	if err != nil {
		return err
	}
	conf = c
	return nil
}

// serverConfig builds the server configuration from the configuration
// file, flags that were set on the command line take precedence.
func serverConfig(cmd *cobra.Command) (string, *service.Config, error) {
	flags := cmd.Flags()

	listen := conf.ListenAddr()
	if flags.Changed("listen") {
		listen = addr
	}

	scope := sessionScope
	if !flags.Changed("session-scope") {
		var err error
		scope, err = service.ParseSessionScope(conf.Scope())
		if err != nil {
			return "", nil, err
		}
	}

	idle, write, static := conf.IdleTimeout, conf.WriteTimeout, conf.StaticReads
	if flags.Changed("idle-timeout") {
		idle = idleTimeout
	}
	if flags.Changed("write-timeout") {
		write = writeTimeout
	}
	if flags.Changed("static-reads") {
		static = staticReads
	}

	initial, err := conf.InitialValues()
	if err != nil {
		return "", nil, err
	}

	return listen, &service.Config{
		Module:        dm.New(dm.Config{InitialValues: initial, StaticReads: static}),
		SessionScope:  scope,
		PeerCacheSize: conf.PeerCacheSize,
		IdleTimeout:   idle,
		WriteTimeout:  write,
	}, nil
}

func serve(cmd *cobra.Command) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	listen, cfg, err := serverConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	listener, err := dmiserver.Listen(context.Background(), listen, reuseAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %s\n", err)
		return 1
	}
	disconnectChan := make(chan struct{})
	cfg.Listener = listener
	cfg.DisconnectChan = disconnectChan

	server, err := dmiserver.NewServer(cfg)
	if err != nil {
		listener.Close()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	waitForDisconnectSignal(disconnectChan)
	if err := server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// waitForDisconnectSignal blocks until SIGINT or SIGTERM is received or
// the server stops accepting connections.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

// newClient returns a client for addrArg, the --addr flag or the
// configured listen address, in this order.
func newClient(addrArg string) *dmiclient.Client {
	a := addrArg
	if a == "" {
		a = serverAddr
	}
	if a == "" {
		a = conf.ListenAddr()
	}
	client := dmiclient.New(a)
	client.SetTimeout(clientTimeout)
	return client
}

func readCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	a, err := config.ParseAddress(args[0])
	if err != nil {
		return err
	}
	client := newClient("")
	defer client.Close()
	v, err := client.Read(a)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%#08x\n", v)
	return nil
}

func writeCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	a, err := config.ParseAddress(args[0])
	if err != nil {
		return err
	}
	v, err := config.ParseUint32(args[1])
	if err != nil {
		return err
	}
	client := newClient("")
	defer client.Close()
	return client.Write(a, v)
}

func connectCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		var a string
		if len(args) > 0 {
			a = args[0]
			if a == "" {
				fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
				return 1
			}
		}
		return connect(newClient(a), conf)
	}()
	os.Exit(status)
}

func connect(client service.Client, conf *config.Config) int {
	term := terminal.New(client, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func scriptCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	client := newClient("")
	defer client.Close()
	term := terminal.New(client, conf)
	defer term.Close()
	err := term.Source(args[0], args[1:])
	var exitErr terminal.ExitRequestError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
