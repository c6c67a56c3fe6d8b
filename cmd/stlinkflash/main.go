package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"stlinkflash/internal/catalog"
	"stlinkflash/internal/checksum"
	"stlinkflash/internal/cortexm"
	"stlinkflash/internal/detect"
	"stlinkflash/internal/fileio"
	"stlinkflash/internal/flash"
	"stlinkflash/internal/hostconfig"
	"stlinkflash/internal/hostdiag"
	"stlinkflash/internal/progress"
	"stlinkflash/internal/stlink"
	"stlinkflash/internal/stlinkerr"
	"stlinkflash/internal/usbtransport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, verb, verbArgs, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	defaults := hostconfig.Load()
	if flags.verbose == 0 {
		flags.verbose = defaults.Verbose
	}
	if flags.index == 0 {
		flags.index = defaults.Index
	}

	var log progress.Sink
	if flags.tui {
		t := progress.NewTUI()
		defer t.Close()
		log = t
	} else {
		log = progress.NewText(flags.verbose)
	}

	if verb == "info" {
		report, _ := hostdiag.Collect()
		fmt.Println(report.String())
		return 0
	}

	if flags.serial == "" {
		flags.serial = defaults.Serial
	}
	if flags.cpu == "" {
		flags.cpu = defaults.CPUType
	}

	framer, err := usbtransport.Open(usbtransport.Options{Serial: flags.serial, Index: flags.index})
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	defer framer.Close()

	driver := stlink.New(framer)
	cpu := cortexm.New(driver, log)

	stayInDebug := flags.noRun
	defer shutdown(driver, cpu, log, &stayInDebug)

	if err := driver.LeaveState(); err != nil {
		log.Error(err.Error())
		return 1
	}
	swdFreq := defaults.SWDFreqHz
	if swdFreq == 0 {
		swdFreq = 1800000
	}
	if err := driver.SetSWDFreq(swdFreq); err != nil {
		log.Error(err.Error())
		return 1
	}
	if err := driver.EnterSWDDebug(); err != nil {
		log.Error(err.Error())
		return 1
	}

	det, err := detect.Detect(driver, catalog.Default, flags.cpu, log)
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	log.Info(fmt.Sprintf("CORE: %s", det.Core.CoreName))
	log.Info(fmt.Sprintf("FLASH: %dKB", det.FlashSizeKB))
	log.Info(fmt.Sprintf("SRAM: %dKB", det.SRAMSizeKB))

	if err := dispatch(verb, verbArgs, driver, cpu, det, log); err != nil {
		log.Error(err.Error())
		return 1
	}
	return 0
}

func shutdown(driver *stlink.Driver, cpu *cortexm.CPU, log progress.Sink, stayInDebug *bool) {
	if !*stayInDebug {
		if err := cpu.NoDebug(); err != nil {
			log.Warning("shutdown: " + err.Error())
		}
	}
	if err := driver.LeaveState(); err != nil {
		log.Warning("shutdown: " + err.Error())
	}
}

type cliFlags struct {
	verbose int
	cpu     string
	noRun   bool
	serial  string
	index   int
	tui     bool
}

func parseArgs(args []string) (cliFlags, string, []string, error) {
	var flags cliFlags
	var rest []string

	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-v":
			flags.verbose = 1
		case a == "-vv":
			flags.verbose = 2
		case a == "-vvv":
			flags.verbose = 3
		case a == "-d":
			flags.verbose = 3
		case a == "--no-run":
			flags.noRun = true
		case a == "--tui":
			flags.tui = true
		case a == "--cpu":
			i++
			if i >= len(args) {
				return flags, "", nil, fmt.Errorf("--cpu requires an argument")
			}
			flags.cpu = args[i]
		case a == "--serial":
			i++
			if i >= len(args) {
				return flags, "", nil, fmt.Errorf("--serial requires an argument")
			}
			flags.serial = args[i]
		case a == "--index":
			i++
			if i >= len(args) {
				return flags, "", nil, fmt.Errorf("--index requires an argument")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil {
				return flags, "", nil, fmt.Errorf("--index must be numeric: %w", err)
			}
			flags.index = n
		default:
			rest = append(rest, args[i:]...)
			i = len(args)
		}
	}
	if len(rest) == 0 {
		return flags, "", nil, fmt.Errorf("missing verb")
	}
	return flags, rest[0], rest[1:], nil
}

func dispatch(verb string, args []string, driver *stlink.Driver, cpu *cortexm.CPU, det *detect.Result, log progress.Sink) error {
	switch {
	case verb == "dump":
		return cmdDump(args, cpu, 32, false)
	case verb == "dump16":
		return cmdDump(args, cpu, 16, false)
	case verb == "dump8":
		return cmdDump(args, cpu, 8, false)
	case verb == "dump:clip":
		return cmdDump(args, cpu, 32, true)
	case verb == "read":
		return cmdRead(args, cpu)
	case verb == "set":
		return cmdSet(args, cpu)
	case verb == "write":
		return cmdWrite(args, cpu)
	case verb == "fill":
		return cmdFill(args, cpu)
	case strings.HasPrefix(verb, "flash:"):
		return cmdFlash(verb, args, driver, cpu, det, log)
	case strings.HasPrefix(verb, "reset"):
		return cmdReset(verb, cpu)
	case verb == "halt":
		return cpu.Halt()
	case verb == "step":
		return cpu.Step()
	case verb == "run":
		return cpu.Run()
	case strings.HasPrefix(verb, "sleep:"):
		return cmdSleep(verb)
	default:
		return stlinkerr.New(stlinkerr.BadParam, "unknown verb %q", verb)
	}
}

func parseAddrSize(args []string) (uint32, int, error) {
	if len(args) < 2 {
		return 0, 0, stlinkerr.New(stlinkerr.BadParam, "expected <addr> <size>")
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
	if err != nil {
		return 0, 0, stlinkerr.New(stlinkerr.BadParam, "malformed address %q", args[0])
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, stlinkerr.New(stlinkerr.BadParam, "malformed size %q", args[1])
	}
	return uint32(addr), size, nil
}

func cmdDump(args []string, cpu *cortexm.CPU, _ int, clip bool) error {
	addr, size, err := parseAddrSize(args)
	if err != nil {
		return err
	}
	data, err := cpu.GetMem(addr, size)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		line := fmt.Sprintf("%08x: % x\n", addr+uint32(i), data[i:end])
		fmt.Print(line)
		if clip {
			sb.WriteString(line)
		}
	}
	if clip {
		if err := clipboard.WriteAll(sb.String()); err != nil {
			return stlinkerr.Wrap(stlinkerr.Protocol, err, "copying dump to clipboard")
		}
	}
	return nil
}

func cmdRead(args []string, cpu *cortexm.CPU) error {
	if len(args) < 1 {
		return stlinkerr.New(stlinkerr.BadParam, "expected <reg>")
	}
	v, err := cpu.GetReg(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: 0x%08x\n", strings.ToUpper(args[0]), v)
	return nil
}

func cmdSet(args []string, cpu *cortexm.CPU) error {
	if len(args) < 2 {
		return stlinkerr.New(stlinkerr.BadParam, "expected <reg> <value>")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 32)
	if err != nil {
		return stlinkerr.New(stlinkerr.BadParam, "malformed value %q", args[1])
	}
	return cpu.SetReg(args[0], uint32(v))
}

func cmdWrite(args []string, cpu *cortexm.CPU) error {
	if len(args) < 2 {
		return stlinkerr.New(stlinkerr.BadParam, "expected <addr> <file>")
	}
	addr, _, err := parseAddrSize([]string{args[0], "0"})
	if err != nil {
		return err
	}
	base, data, err := loadImage(args[1], addr)
	if err != nil {
		return err
	}
	return cpu.SetMem(base, data)
}

// isSRECFile reports whether path names a Motorola S-record file by its
// extension, the set pystlink itself recognizes in its file-type dispatch.
func isSRECFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srec", ".s19", ".s28", ".s37", ".mot", ".s":
		return true
	default:
		return false
	}
}

// loadImage loads file as either a flat raw binary or, when its extension
// names an SREC file, decodes it into records and flattens them into one
// contiguous buffer. defaultBase is the raw-binary load address; an SREC
// image is placed at its own record addresses, and defaultBase is returned
// for it only when the file holds no data records.
func loadImage(file string, defaultBase uint32) (uint32, []byte, error) {
	if isSRECFile(file) {
		records, err := fileio.ReadSREC(file)
		if err != nil {
			return 0, nil, err
		}
		base, data := fileio.FlattenRecords(records, defaultBase)
		return base, data, nil
	}
	data, err := fileio.ReadRaw(file)
	if err != nil {
		return 0, nil, err
	}
	return defaultBase, data, nil
}

func cmdFill(args []string, cpu *cortexm.CPU) error {
	if len(args) < 3 {
		return stlinkerr.New(stlinkerr.BadParam, "expected <addr> <size> <pattern>")
	}
	addr, size, err := parseAddrSize(args[:2])
	if err != nil {
		return err
	}
	pv, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 32)
	if err != nil {
		return stlinkerr.New(stlinkerr.BadParam, "malformed pattern %q", args[2])
	}
	return cpu.Fill(addr, size, []byte{byte(pv)})
}

func cmdReset(verb string, cpu *cortexm.CPU) error {
	if strings.Contains(verb, ":halt") {
		return cpu.ResetHalt()
	}
	return cpu.Reset()
}

func cmdSleep(verb string) error {
	secStr := strings.TrimPrefix(verb, "sleep:")
	sec, err := strconv.ParseFloat(secStr, 64)
	if err != nil {
		return stlinkerr.New(stlinkerr.BadParam, "malformed sleep duration %q", secStr)
	}
	time.Sleep(time.Duration(sec * float64(time.Second)))
	return nil
}

// cmdFlash parses "flash:[erase][:verify][:addr]:file" or "flash:erase" and
// dispatches to the detected flash driver, per spec §6's CLI surface.
func cmdFlash(verb string, _ []string, driver *stlink.Driver, cpu *cortexm.CPU, det *detect.Result, log progress.Sink) error {
	parts := strings.Split(verb, ":")[1:]
	writer, err := newWriter(driver, cpu, det, log)
	if err != nil {
		return err
	}

	if len(parts) == 1 && parts[0] == "erase" {
		return writer.EraseAll()
	}

	var erase, verify, hasAddr bool
	var addr uint32
	var file string
	for _, p := range parts {
		switch p {
		case "erase":
			erase = true
		case "verify":
			verify = true
		case "":
		default:
			if a, aerr := strconv.ParseUint(strings.TrimPrefix(p, "0x"), 16, 32); aerr == nil && file == "" && strings.HasPrefix(p, "0x") {
				addr, hasAddr = uint32(a), true
			} else {
				file = p
			}
		}
	}
	if file == "" {
		return stlinkerr.New(stlinkerr.BadParam, "flash verb requires a file argument")
	}
	defaultBase := cortexm.FlashStart
	if hasAddr {
		defaultBase = addr
	}
	base, data, err := loadImage(file, defaultBase)
	if err != nil {
		return err
	}
	if err := writer.Write(base, data, erase, verify); err != nil {
		return err
	}
	sum, err := checksum.Sum256(data)
	if err == nil {
		log.Info("programmed digest: " + sum)
	}
	return nil
}

func newWriter(driver *stlink.Driver, cpu *cortexm.CPU, det *detect.Result, log progress.Sink) (flash.Writer, error) {
	switch det.Device.FlashDriver {
	case "FP", "FPXL":
		return flash.NewPageFlash(driver, cpu, log), nil
	case "FS":
		voltage, err := driver.TargetVoltage()
		if err != nil {
			return nil, err
		}
		sizesKB := make([]int, len(det.Device.EraseSizes))
		for i, b := range det.Device.EraseSizes {
			sizesKB[i] = int(b / 1024)
		}
		return flash.NewSectorFlash(driver, cpu, log, voltage, sizesKB)
	default:
		return nil, stlinkerr.New(stlinkerr.NotImplemented, "flash driver tag %q has no implementation", det.Device.FlashDriver)
	}
}
