// Package starbind exposes a DMI client to starlark scripts.
package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/service"
)

const (
	dmiReadBuiltinName    = "dmi_read"
	dmiWriteBuiltinName   = "dmi_write"
	dmiStatusBuiltinName  = "dmi_status"
	regReadBuiltinName    = "reg_read"
	regWriteBuiltinName   = "reg_write"
	dmiCommandBuiltinName = "dmi_command"
	sleepBuiltinName      = "sleep"
	helpBuiltinName       = "help"
	commandPrefix         = "command_"
	dmiContextName        = "dmi_context"
)

func init() {
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Client() service.Client
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	env.builtin(dmiReadBuiltinName, "(Addr)", "returns the value of the DMI register at Addr.", env.dmiRead)
	env.builtin(dmiWriteBuiltinName, "(Addr, Value)", "writes Value to the DMI register at Addr.", env.dmiWrite)
	env.builtin(dmiStatusBuiltinName, "()", "reads DMSTATUS and returns a dict with its value and the names of the bits set.", env.dmiStatus)
	env.builtin(regReadBuiltinName, "(Reg)", "reads a hart register through an abstract command. Reg is a name (\"a0\", \"pc\") or a register number.", env.regRead)
	env.builtin(regWriteBuiltinName, "(Reg, Value)", "writes a hart register through an abstract command.", env.regWrite)
	env.builtin(dmiCommandBuiltinName, "(Command)", "runs a terminal command.", env.dmiCommand)
	env.builtin(sleepBuiltinName, "(Milliseconds)", "pauses the script.", env.sleep)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) client() (service.Client, error) {
	if env.ctx == nil || env.ctx.Client() == nil {
		return nil, fmt.Errorf("not connected")
	}
	return env.ctx.Client(), nil
}

func toUint32(v starlark.Value, what string) (uint32, error) {
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("%s must be an int, got %s", what, v.Type())
	}
	u, ok := i.Uint64()
	if !ok || u > 0xffffffff {
		return 0, fmt.Errorf("%s %s does not fit in 32 bits", what, i)
	}
	return uint32(u), nil
}

func toRegno(v starlark.Value) (uint16, error) {
	switch x := v.(type) {
	case starlark.String:
		return dm.ParseHartRegister(string(x))
	case starlark.Int:
		u, ok := x.Uint64()
		if !ok || u > 0xffff {
			return 0, fmt.Errorf("register number %s out of range", x)
		}
		return uint16(u), nil
	}
	return 0, fmt.Errorf("register must be a string or an int, got %s", v.Type())
}

func (env *Env) dmiRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	var addrv starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv); err != nil {
		return starlark.None, err
	}
	addr, err := toUint32(addrv, "address")
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	c, err := env.client()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	v, err := c.Read(addr)
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	return starlark.MakeUint64(uint64(v)), nil
}

func (env *Env) dmiWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	var addrv, valuev starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addrv, "value", &valuev); err != nil {
		return starlark.None, err
	}
	addr, err := toUint32(addrv, "address")
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	value, err := toUint32(valuev, "value")
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	c, err := env.client()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	return starlark.None, decorateError(thread, c.Write(addr, value))
}

func (env *Env) dmiStatus(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return starlark.None, err
	}
	c, err := env.client()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	v, err := c.Status()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	flags := dm.DecodeStatus(v).Flags()
	names := make([]starlark.Value, len(flags))
	for i := range flags {
		names[i] = starlark.String(flags[i])
	}
	r := starlark.NewDict(2)
	r.SetKey(starlark.String("value"), starlark.MakeUint64(uint64(v)))
	r.SetKey(starlark.String("flags"), starlark.NewList(names))
	return r, nil
}

func (env *Env) regRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	var regv starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "reg", &regv); err != nil {
		return starlark.None, err
	}
	regno, err := toRegno(regv)
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	c, err := env.client()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	v, err := c.ReadRegister(regno)
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	return starlark.MakeUint64(uint64(v)), nil
}

func (env *Env) regWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	var regv, valuev starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "reg", &regv, "value", &valuev); err != nil {
		return starlark.None, err
	}
	regno, err := toRegno(regv)
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	value, err := toUint32(valuev, "value")
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	c, err := env.client()
	if err != nil {
		return starlark.None, decorateError(thread, err)
	}
	return starlark.None, decorateError(thread, c.WriteRegister(regno, value))
}

func (env *Env) dmiCommand(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	argstrs := make([]string, len(args))
	for i := range args {
		a, ok := args[i].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument of dmi_command is not a string")
		}
		argstrs[i] = string(a)
	}
	if env.ctx == nil {
		return starlark.None, decorateError(thread, fmt.Errorf("no terminal to run commands"))
	}
	return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
}

func (env *Env) sleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ms int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ms", &ms); err != nil {
		return starlark.None, err
	}
	ctx, _ := thread.Local(dmiContextName).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return starlark.None, nil
	case <-ctx.Done():
		return starlark.None, ctx.Err()
	}
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed, if a function named main exists it is called
// with args.
func (env *Env) Execute(path string, source interface{}, args []string) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_".
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			env.createCommand(name, val)
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(dmiContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) {
	fnval, ok := val.(*starlark.Function)
	if !ok || env.ctx == nil {
		return
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		var argtuple starlark.Tuple
		if fnval.NumParams() > 0 {
			argtuple = starlark.Tuple{starlark.String(args)}
		}
		_, err := starlark.Call(env.newThread(), fnval, argtuple, nil)
		return err
	})
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, args []string) (starlark.Value, error) {
	mainval := globals["main"]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("main is not a function")
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = starlark.String(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(dmiContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
