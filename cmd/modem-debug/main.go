// Command modem-debug opens a single serial port, runs the probe
// dialogue against it, and prints the resulting capability
// classification — a quick way to check whether a given device file
// answers AT commands before wiring it into the daemon proper.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/xx25/cellmodemd/internal/modemd/command"
	"github.com/xx25/cellmodemd/internal/modemd/portstream"
	"github.com/xx25/cellmodemd/internal/modemd/probe"
)

func main() {
	device := flag.String("device", "/dev/ttyACM0", "serial device to probe")
	baud := flag.Int("baud", 115200, "baud rate")
	flag.Parse()

	cfg := portstream.DefaultConfig(*device)
	cfg.BaudRate = *baud

	fmt.Printf("Opening %s...\n", *device)
	stream, err := portstream.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	queue := command.NewQueue(stream)
	defer queue.Close()

	prober := probe.NewProber(nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := prober.Probe(ctx, *device, queue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Capabilities: %08b  Level: %d\n", result.Capabilities, result.Level())
	fmt.Printf("  GSM-AT:       %v\n", result.Has(probe.CapGSMAT))
	fmt.Printf("  CDMA IS-707A: %v\n", result.Has(probe.CapCDMAIS707A))
	fmt.Printf("  CDMA IS-707P: %v\n", result.Has(probe.CapCDMAIS707P))
	fmt.Printf("  CDMA IS-856:  %v\n", result.Has(probe.CapCDMAIS856))
	fmt.Printf("  CDMA IS-856A: %v\n", result.Has(probe.CapCDMAIS856A))
	fmt.Printf("  QCDM:         %v\n", result.Has(probe.CapQCDM))
}
