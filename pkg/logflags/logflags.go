package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var dmi = false
var abstract = false
var wire = false
var server = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// DMI returns true if register reads, writes and their side effects
// should be logged.
func DMI() bool {
	return dmi
}

// DMILogger returns a logger for the emulated debug module.
func DMILogger() Logger {
	return makeFlaggableLogger(dmi, Fields{"layer": "dmi"})
}

// Abstract returns true if abstract command decoding should be logged.
func Abstract() bool {
	return abstract
}

// AbstractLogger returns a logger for the abstract command engine.
func AbstractLogger() Logger {
	return makeFlaggableLogger(abstract, Fields{"layer": "dmi", "kind": "abstract"})
}

// Wire returns true if every frame exchanged on a DMI socket should be
// logged.
func Wire() bool {
	return wire
}

// WireLogger returns a configured logger for the DMI wire protocol.
func WireLogger() Logger {
	return makeFlaggableLogger(wire, Fields{"layer": "wire"})
}

// Server returns true if the accept loop and session lifecycle should be
// logged.
func Server() bool {
	return server
}

// ServerLogger returns a logger for the DMI socket server.
func ServerLogger() Logger {
	return makeFlaggableLogger(server, Fields{"layer": "server"})
}

// Terminal returns true if the interactive client should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal and the DMI client.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

// WriteListeningMessage writes the "DMI server listening" message.
// If logging is enabled it goes through the server logger, otherwise it is
// written to stderr.
func WriteListeningMessage(addr string) {
	msg := fmt.Sprintf("DMI server listening at: %s", addr)
	if logOut != nil {
		ServerLogger().Info(msg)
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dmisim-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "server"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "dmi":
			dmi = true
		case "abstract":
			abstract = true
		case "wire":
			wire = true
		case "server":
			server = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dmisim help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		stringVal, ok := entry.Data[key].(string)
		if !ok {
			stringVal = fmt.Sprint(entry.Data[key])
		}
		if f.needsQuoting(stringVal) {
			fmt.Fprintf(b, "%q", stringVal)
		} else {
			b.WriteString(stringVal)
		}
		if i != len(keys)-1 {
			b.WriteByte(',')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) needsQuoting(text string) bool {
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '/' || ch == '@' || ch == '^' || ch == '+') {
			return true
		}
	}
	return false
}

var textFormatterInstance = &textFormatter{}
