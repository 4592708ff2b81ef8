package commands

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/spf13/cobra"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build details",
	Long:  `Display the docket version, build information, and system details.`,
	Run: func(cmd *cobra.Command, args []string) {
		v := resolveVersion()
		if versionShort {
			fmt.Println(v)
			return
		}

		fmt.Printf("docket %s\n", v)
		_ = output.SimpleTable(os.Stdout, [][2]string{
			{"Commit", Commit},
			{"Built", Date},
			{"Go version", runtime.Version()},
			{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
		})
	},
}

// resolveVersion falls back to module build info when the binary was
// installed without ldflags (plain go install).
func resolveVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print just the version number")
}
