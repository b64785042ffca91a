// Package version reports the version of dmisim and of the modules it was
// built from.
package version

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"text/tabwriter"
)

// Version represents the current version of dmisim.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// DMISimVersion is the current version of dmisim.
var DMISimVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version and the module list of the binary.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return runtime.Version() + "\nnot built in module mode\n"
	}
	return runtime.Version() + "\n" + formatBuildInfo(info)
}

// formatBuildInfo lists the main module, the VCS settings recorded by the
// go command and then every dependency, one per line.
func formatBuildInfo(info *debug.BuildInfo) string {
	buf := new(bytes.Buffer)
	w := tabwriter.NewWriter(buf, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, " main\t%s\t%s\n", info.Main.Path, moduleVersion(&info.Main))
	for _, setting := range info.Settings {
		if strings.HasPrefix(setting.Key, "vcs.") {
			fmt.Fprintf(w, " %s\t%s\n", setting.Key, setting.Value)
		}
	}
	for _, dep := range info.Deps {
		fmt.Fprintf(w, " dep\t%s\t%s", dep.Path, moduleVersion(dep))
		if dep.Replace != nil {
			fmt.Fprintf(w, "\t=> %s %s", dep.Replace.Path, moduleVersion(dep.Replace))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
	return buf.String()
}

func moduleVersion(m *debug.Module) string {
	if m.Version == "" {
		return "(devel)"
	}
	return m.Version
}

func fixBuild(v *Version) {
	// Build is only replaced while it still holds the unexpanded ident
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
