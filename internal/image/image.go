// Package image loads flash images from raw binary or Intel HEX files.
package image

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// Fill is the value of erased flash, used for gaps in sparse images.
const Fill = 0xFF

// Load reads an image file. Files ending in .hex, .ihex or .ihx are parsed
// as Intel HEX, anything else is taken as a raw binary.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return ParseHex(f)
	default:
		return io.ReadAll(f)
	}
}

// ParseHex flattens an Intel HEX file into a binary image starting at
// address 0. Gaps between segments are filled with Fill.
func ParseHex(r io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "parsing Intel HEX")
	}

	var end uint32
	for _, seg := range mem.GetDataSegments() {
		if e := seg.Address + uint32(len(seg.Data)); e > end {
			end = e
		}
	}
	if end == 0 {
		return nil, errors.New("Intel HEX file holds no data")
	}
	return mem.ToBinary(0, end, Fill), nil
}

// Checksum returns the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return uint32(crc.CalculateCRC(crc.CRC32, data))
}
