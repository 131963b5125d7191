package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/heartio/internal/lifecycle"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd runs the heart-rate monitor
var rootCmd = &cobra.Command{
	Use:   "heartio",
	Short: "Heart-rate to VRChat chatbox bridge",
	Long: `Reads heart rate from a wearable and shows it in the VRChat chatbox over OSC.

Sources (first match wins):
- Xiaomi Smart Band advertisements (sources.xiaomi_band)
- HTTP ingest for Apple Watch shortcuts, GET /heart?bpm=N (sources.apple_watch)
- A BLE heart-rate sensor by name (device.name) or address (device.address)
- Any nearby device advertising the heart-rate service

Every sample is stored in a local SQLite file and streamed to the console and
to websocket clients on /ws. Prometheus metrics are served on /metrics.`,
	Version: formatVersion(version),
	RunE:    runMonitor,
}

func main() {
	// the keep-awake helper must not outlive a crashing process
	defer lifecycle.RecoverAndRelease()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		lifecycle.CrashRelease()
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("heartio {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().String("config", "", "Path to heartio.yaml (default: next to the executable)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	registerMonitorFlags(rootCmd)
}

// platform returns GOOS-GOARCH.
func platform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

func printBanner(w io.Writer) {
	title := color.New(color.FgRed, color.Bold)
	_, _ = title.Fprintf(w, "♥ heartio %s", formatVersion(version))
	fmt.Fprintf(w, " (%s)\n", platform())
}
