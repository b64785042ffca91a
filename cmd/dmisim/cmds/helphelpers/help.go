package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The logging and configuration flags belong to the root command so that
// they can appear anywhere on the command line, but they mean nothing to
// commands that neither serve nor connect.
//
// For example:
//
//	dmisim --log version
//
// must parse successfully even though version never logs.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "dmisim", "help", "version", "log", "session-scope":
		hideAllFlags(cmd)
	case "connect", "read", "script", "serve", "write":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}
