// Package fileio provides the caller-provided file I/O the core treats as
// an external collaborator (spec's Non-goals exclude it from the core, but
// a runnable CLI still needs it): raw binary loaded as an ordered byte
// sequence, or Motorola SREC decoded into (address, data) records.
package fileio

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"

	"stlinkflash/internal/stlinkerr"
)

// Record is one contiguous data block at a target address, matching the
// spec's "SREC as a list of (address, byte-sequence) tuples" contract.
type Record struct {
	Address uint32
	Data    []byte
}

// ReadRaw loads path as an ordered byte sequence with no address framing.
func ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stlinkerr.Wrap(stlinkerr.BadParam, err, "reading raw binary file %q", path)
	}
	return data, nil
}

// WriteRaw writes data to path as a plain byte dump.
func WriteRaw(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return stlinkerr.Wrap(stlinkerr.BadParam, err, "writing raw binary file %q", path)
	}
	return nil
}

// ReadSREC decodes a Motorola S-record file into ordered records. Only the
// data record types (S1/S2/S3) are retained; header (S0) and termination
// (S5/S7/S8/S9) records are skipped.
func ReadSREC(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, stlinkerr.Wrap(stlinkerr.BadParam, err, "opening SREC file %q", path)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		rec, ok, err := decodeSRECLine(line)
		if err != nil {
			return nil, stlinkerr.Wrap(stlinkerr.BadParam, err, "%s:%d: malformed SREC line", path, lineNo)
		}
		if ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, stlinkerr.Wrap(stlinkerr.BadParam, err, "reading SREC file %q", path)
	}
	return records, nil
}

func decodeSRECLine(line string) (Record, bool, error) {
	if line[0] != 'S' {
		return Record{}, false, fmt.Errorf("line does not start with 'S'")
	}
	recType := line[1]
	byteCount, err := hexByte(line[2:4])
	if err != nil {
		return Record{}, false, err
	}
	body, err := hex.DecodeString(line[4 : 4+int(byteCount)*2])
	if err != nil {
		return Record{}, false, err
	}

	var addrLen int
	switch recType {
	case '1':
		addrLen = 2
	case '2':
		addrLen = 3
	case '3':
		addrLen = 4
	default:
		return Record{}, false, nil // header/count/termination records carry no data
	}

	var addr uint32
	for i := 0; i < addrLen; i++ {
		addr = addr<<8 | uint32(body[i])
	}
	data := body[addrLen : len(body)-1] // trailing byte is the checksum
	return Record{Address: addr, Data: append([]byte{}, data...)}, true, nil
}

func hexByte(s string) (byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("invalid hex byte %q", s)
	}
	return b[0], nil
}

// FlattenRecords merges ordered records into one contiguous buffer starting
// at the lowest record address, filling any gaps with 0xFF. Every record
// carries its own address; defaultBase is returned, with no data, only when
// records is empty.
func FlattenRecords(records []Record, defaultBase uint32) (uint32, []byte) {
	if len(records) == 0 {
		return defaultBase, nil
	}
	base := records[0].Address
	end := base
	for _, r := range records {
		if r.Address < base {
			base = r.Address
		}
		if e := r.Address + uint32(len(r.Data)); e > end {
			end = e
		}
	}
	buf := make([]byte, end-base)
	for i := range buf {
		buf[i] = 0xff
	}
	for _, r := range records {
		copy(buf[r.Address-base:], r.Data)
	}
	return base, buf
}
