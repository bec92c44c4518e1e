// Command tsch-sim drives a tsch.Engine against a fake clock and a fake
// radio for manual/exploratory testing, mirroring the teacher's many
// single-purpose cmd/* tools (atest, gen_packets) that exercise one
// subsystem standalone rather than the whole direwolf binary.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/doismellburning/samoyed/internal/neighbor"
	"github.com/doismellburning/samoyed/internal/radio/radiosim"
	"github.com/doismellburning/samoyed/internal/rtimer"
	"github.com/doismellburning/samoyed/internal/schedule"
	"github.com/doismellburning/samoyed/internal/timesync"
	"github.com/doismellburning/samoyed/tsch"
)

func main() {
	var (
		configPath   = pflag.StringP("config", "c", "", "YAML config file (defaults used if omitted)")
		slots        = pflag.IntP("slots", "n", 100, "Number of slots to simulate")
		slotframeLen = pflag.Uint64P("slotframe-length", "L", 4, "Length of the simulated slotframe")
		coordinator  = pflag.BoolP("coordinator", "C", false, "Run as the network coordinator")
		dumpRX       = pflag.Bool("dump-rx", false, "Print every entry published to the input ring")
		timestampFmt = pflag.StringP("timestamp-format", "T", "%H:%M:%S", "strftime format for per-slot log prefix")
		help         = pflag.BoolP("help", "h", false, "Display help text")
	)
	pflag.Usage = usage
	pflag.Parse()

	if *help {
		usage()
		return
	}

	fc := tsch.DefaultFileConfig()
	if *configPath != "" {
		loaded, err := tsch.LoadFileConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fc = loaded
	}
	fc.IsCoordinator = *coordinator

	clk := rtimer.NewFakeClock(0, 1_000_000)
	drv := radiosim.New()
	store := schedule.NewFixedSlotframe(*slotframeLen)
	store.Set(0, schedule.Link{Options: schedule.OptionTX | schedule.OptionRX | schedule.OptionShared, NeighborAddress: neighbor.BroadcastAddress}, nil)
	neighbors := neighbor.NewTable()

	e := tsch.New(fc, tsch.Options{
		Clock:        clk,
		Radio:        drv,
		Store:        store,
		Neighbors:    neighbors,
		Timesync:     &timesync.EWMA{Alpha: 0.2},
		LocalAddress: 1,
	})

	e.CurrentSlotStart = clk.Now()
	done := make(chan struct{})
	go driveClock(clk, done)
	defer close(done)

	for i := 0; i < *slots; i++ {
		result := e.Step()
		ts, err := strftime.Format(*timestampFmt, time.Now())
		if err != nil {
			ts = time.Now().Format(time.TimeOnly)
		}
		fmt.Printf("%s asn=%d kind=%v channel=%d\n", ts, uint64(e.CurrentASN), result.Kind, result.Channel)

		if *dumpRX {
			for {
				entry, ok := e.InputRing.Get()
				if !ok {
					break
				}
				fmt.Printf("  rx: asn=%d bytes=%d rssi=%d channel=%d\n", uint64(entry.RxASN), len(entry.Buffer), entry.RSSI, entry.Channel)
			}
		}

		if result.Disassociated {
			fmt.Println("disassociated, stopping simulation")
			break
		}
	}
}

// driveClock advances the fake clock continuously so the engine's
// yield/busy-wait points make progress in real time, the same idiom the
// internal/slotop tests use to drive a FakeClock concurrently.
func driveClock(clk *rtimer.FakeClock, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			clk.Advance(10)
			time.Sleep(time.Microsecond)
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "tsch-sim - exercise the TSCH slot-operation engine without real hardware.\n\n")
	pflag.PrintDefaults()
}
