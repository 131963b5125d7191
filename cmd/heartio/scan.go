package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/discovery"
	goble "github.com/srg/heartio/internal/device/go-ble"
	"golang.org/x/term"
)

// scanCmd lists nearby BLE peripherals and flags heart-rate sensors
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby BLE devices",
	Long: `Scan for Bluetooth Low Energy devices and show which ones advertise the
heart-rate service. Use the printed name or address as device.name or
device.address in heartio.yaml.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanHROnly   bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanHROnly, "heart-rate-only", false, "Only show devices advertising the heart-rate service")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	central, err := goble.NewCentral(logger)
	if err != nil {
		return err
	}
	defer func() { _ = central.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	progress := newCountdown(out, "Scanning for BLE devices", scanDuration, term.IsTerminal(int(os.Stdout.Fd())))
	progress.Start()
	peripherals, err := discovery.NewFinder(central, logger).Survey(ctx, scanDuration)
	progress.Stop()

	if err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}

	peripherals = filterPeripherals(peripherals, !scanHROnly)
	if scanFormat == "json" {
		return writeScanJSON(out, peripherals)
	}
	return writeScanTable(out, peripherals)
}

// filterPeripherals orders heart-rate devices first, strongest signal first.
func filterPeripherals(in []discovery.Peripheral, all bool) []discovery.Peripheral {
	out := make([]discovery.Peripheral, 0, len(in))
	for _, p := range in {
		if all || p.HasHeartRateService() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].HasHeartRateService(), out[j].HasHeartRateService()
		if hi != hj {
			return hi
		}
		return out[i].RSSI > out[j].RSSI
	})
	return out
}

type scanEntry struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	RSSI      int      `json:"rssi"`
	HeartRate bool     `json:"heart_rate"`
	Services  []string `json:"services,omitempty"`
	Vendors   []string `json:"vendors,omitempty"`
}

func writeScanJSON(w io.Writer, peripherals []discovery.Peripheral) error {
	entries := make([]scanEntry, 0, len(peripherals))
	for _, p := range peripherals {
		entries = append(entries, scanEntry{
			Name:      p.Name,
			Address:   p.Address,
			RSSI:      p.RSSI,
			HeartRate: p.HasHeartRateService(),
			Services:  p.Services,
			Vendors:   vendors(p.Manufacturer),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeScanTable(w io.Writer, peripherals []discovery.Peripheral) error {
	if len(peripherals) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return nil
	}

	heart := color.New(color.FgRed, color.Bold)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tVENDOR\tSERVICES\t")
	for _, p := range peripherals {
		// color codes would skew tabwriter widths, so the mark goes last
		mark := ""
		if p.HasHeartRateService() {
			mark = heart.Sprint("♥")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			p.DisplayName(), p.Address, p.RSSI, strings.Join(vendors(p.Manufacturer), ","), shortServices(p.Services), mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d device(s); ♥ marks the heart-rate service.\n", len(peripherals))
	return nil
}

// vendors names the manufacturer data company ids in ascending order.
func vendors(manufacturer map[uint16][]byte) []string {
	ids := make([]int, 0, len(manufacturer))
	for id := range manufacturer {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, device.DescribeCompany(uint16(id)))
	}
	return out
}

// shortServices renders SIG-assigned UUIDs in their 16-bit form.
func shortServices(uuids []string) string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if id, ok := device.ShortID(u); ok {
			out = append(out, fmt.Sprintf("%04x", id))
			continue
		}
		out = append(out, u)
	}
	return strings.Join(out, ",")
}
