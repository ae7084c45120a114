// Command f3probe probes a block device for counterfeit flash
// memory. If counterfeit, it identifies the fake type and the
// device's real memory size.
//
// Usage:
//
//	f3probe [flags] <BLOCK_DEV>
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/flashprobe/f3probe/pkg/device"
	"github.com/flashprobe/f3probe/pkg/device/filedev"
	"github.com/flashprobe/f3probe/pkg/device/perfdev"
	"github.com/flashprobe/f3probe/pkg/device/rawdev"
	"github.com/flashprobe/f3probe/pkg/device/safedev"
	"github.com/flashprobe/f3probe/pkg/prober"
)

// gigabyte is the unit the --debug-file-size/--debug-fake-size flags
// are given in, matching the original's SIZE_GB argp option.
const gigabyte = 1 << 30

// cliIO wraps stdout/stderr the way internal/cli/command.go's IO does,
// trimmed to the single-command surface this CLI needs.
type cliIO struct {
	out, errOut io.Writer
}

func (o *cliIO) Printf(format string, a ...any) { _, _ = fmt.Fprintf(o.out, format, a...) }
func (o *cliIO) ErrPrintln(a ...any)            { _, _ = fmt.Fprintln(o.errOut, a...) }

func main() {
	o := &cliIO{out: os.Stdout, errOut: os.Stderr}
	os.Exit(run(o, os.Args[1:]))
}

func run(o *cliIO, args []string) int {
	flags := flag.NewFlagSet("f3probe", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	debugFileSizeGB := flags.Int("debug-file-size", 0, "debug: use a regular file of SIZE_GB as the backing store")
	debugFakeSizeGB := flags.Int("debug-fake-size", 0, "debug: fake size in GB of the emulated flash")
	debugType := flags.String("debug-type", "limbo", "debug: fake type to emulate (good, limbo, wraparound)")
	configPath := flags.String("config", "", "path to a JSONC config file (see pkg/prober.Config)")
	reportPath := flags.String("report", "", "write a JSON probe report to this path")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(o, flags)
			return 0
		}
		o.ErrPrintln("error:", err)
		printUsage(o, flags)
		return 1
	}

	positional := flags.Args()
	if len(positional) != 1 {
		o.ErrPrintln("error: exactly one block device path is required")
		printUsage(o, flags)
		return 1
	}
	filename := positional[0]

	cfg := prober.DefaultConfig()
	if *configPath != "" {
		loaded, err := prober.LoadConfig(*configPath)
		if err != nil {
			o.ErrPrintln("error:", err)
			return 1
		}
		cfg = loaded
	}

	debug := *debugFileSizeGB > 0 || *debugFakeSizeGB > 0 || flags.Changed("debug-type")

	dev, cleanup, err := openDevice(filename, debug, *debugFileSizeGB, *debugFakeSizeGB, *debugType, cfg)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	defer cleanup()

	result, err := prober.ProbeDevice(dev, cfg)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	if *reportPath != "" {
		report := prober.NewReport(filename, result, time.Now())
		if err := prober.WriteReport(*reportPath, report); err != nil {
			o.ErrPrintln("error:", err)
			return 1
		}
	}

	printResult(o, filename, result)
	return 0
}

// openDevice builds the safe(perf(file|raw)) wrapper chain per
// spec.md's device stack and, for the debug path, sizes the safe
// wrapper's save area against the same probe_device_max_blocks upper
// bound the core uses in production.
func openDevice(filename string, debug bool, fileSizeGB, fakeSizeGB int, fakeType string, cfg prober.Config) (device.Device, func(), error) {
	var inner device.Device

	if debug {
		opts, err := debugFileOptions(filename, fileSizeGB, fakeSizeGB, fakeType)
		if err != nil {
			return nil, nil, err
		}
		fd, err := filedev.New(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open debug file device: %w", err)
		}
		inner = fd
	} else {
		rd, err := rawdev.New(rawdev.Options{Filename: filename, ResetType: rawdev.ResetNone})
		if err != nil {
			return nil, nil, fmt.Errorf("open block device: %w", err)
		}
		inner = rd
	}

	perf := perfdev.Wrap(inner)
	maxBlocks := prober.ProbeDeviceMaxBlocks(perf, cfg)

	sd, err := safedev.New(perf, maxBlocks, false)
	if err != nil {
		closeDevice(inner)
		return nil, nil, fmt.Errorf("wrap device in safe recovery layer: %w", err)
	}

	cleanup := func() { closeDevice(sd) }
	return sd, cleanup, nil
}

func closeDevice(dev device.Device) {
	if c, ok := dev.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// debugFileOptions maps the original's (file_size_gb, fake_size_gb,
// fake_type) debug knobs onto a filedev.Options that produces a
// device classifying as that FakeType, per device.ParamToType's
// rules.
func debugFileOptions(filename string, fileSizeGB, fakeSizeGB int, fakeType string) (filedev.Options, error) {
	if fileSizeGB < 1 {
		fileSizeGB = 1
	}
	if fakeSizeGB < 1 {
		fakeSizeGB = 2
	}

	realByte := uint64(fileSizeGB) * gigabyte
	announcedByte := uint64(fakeSizeGB) * gigabyte

	opts := filedev.Options{Filename: filename, BlockOrder: 12}

	switch fakeType {
	case "good":
		opts.RealSizeByte = announcedByte
		opts.AnnouncedSizeByte = announcedByte
		opts.Wrap = uint64(ceilLog2(announcedByte))
	case "limbo":
		opts.RealSizeByte = realByte
		opts.AnnouncedSizeByte = announcedByte
		opts.Wrap = uint64(ceilLog2(announcedByte)) + 1
	case "wraparound":
		opts.RealSizeByte = realByte
		opts.AnnouncedSizeByte = announcedByte
		opts.Wrap = uint64(ceilLog2(realByte))
	default:
		return filedev.Options{}, fmt.Errorf("fake type must be one of `good', `limbo' or `wraparound', got %q", fakeType)
	}

	return opts, nil
}

// ceilLog2 is a tiny local copy of the bit-width-of-capacity
// calculation the prober package keeps unexported; the CLI only
// needs it to build plausible debug device parameters.
func ceilLog2(x uint64) uint8 {
	var n uint8
	for (uint64(1) << n) < x {
		n++
	}
	return n
}

func printResult(o *cliIO, filename string, result prober.Result) {
	realGB := float64(result.RealSizeByte) / gigabyte

	switch result.FakeType {
	case device.Good:
		o.Printf("Nice! The device `%s' is the real thing, and its size is %.2fGB\n", filename, realGB)
	case device.Limbo, device.Wraparound, device.Chain:
		o.Printf("Bad news: The device `%s' is a counterfeit of type %s, and its *real* size is %.2fGB\n",
			filename, result.FakeType, realGB)
	default:
		o.Printf("The device `%s' has no usable capacity (type %s)\n", filename, result.FakeType)
	}

	if result.NeedReset {
		o.Printf("This device has a volatile cache of %d block(s); a reset is required between write and read passes to get trustworthy results.\n",
			result.CacheSizeBlock)
	}
}

func printUsage(o *cliIO, flags *flag.FlagSet) {
	o.Printf("f3probe -- probe a block device for counterfeit flash memory.\n")
	o.Printf("If counterfeit, f3probe identifies the fake type and real memory size.\n\n")
	o.Printf("Usage: f3probe [flags] <BLOCK_DEV>\n\n")
	o.Printf("Flags:\n")
	var buf strings.Builder
	flags.SetOutput(&buf)
	flags.PrintDefaults()
	o.Printf("%s", buf.String())
}
