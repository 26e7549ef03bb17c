package flash

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SectorSize is the erase granularity of every SST39SF part.
const SectorSize = 4096

// DataBits is the width of the data bus.
const DataBits = 8

// Chip describes the geometry of one flash part.
type Chip struct {
	Name        string
	AddressBits int    // number of address lines
	Size        uint32 // bytes
	SectorSize  uint32 // bytes
}

// Supported parts. Size is always 1<<AddressBits.
var (
	SST39SF010 = Chip{Name: "SST39SF010", AddressBits: 17, Size: 128 * 1024, SectorSize: SectorSize}
	SST39SF020 = Chip{Name: "SST39SF020", AddressBits: 18, Size: 256 * 1024, SectorSize: SectorSize}
	SST39SF040 = Chip{Name: "SST39SF040", AddressBits: 19, Size: 512 * 1024, SectorSize: SectorSize}
)

// DefaultChip is used when no part is named.
var DefaultChip = SST39SF020

var chips = map[string]Chip{
	"sst39sf010": SST39SF010,
	"sst39sf020": SST39SF020,
	"sst39sf040": SST39SF040,
}

// LookupChip returns the part with the given name, case-insensitively.
func LookupChip(name string) (Chip, error) {
	c, ok := chips[strings.ToLower(name)]
	if !ok {
		return Chip{}, errors.Errorf("unknown chip %q (supported: %s)", name, strings.Join(ChipNames(), ", "))
	}
	return c, nil
}

// ChipNames lists the supported part names.
func ChipNames() []string {
	names := make([]string, 0, len(chips))
	for _, c := range chips {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Sectors returns the number of sectors on the chip.
func (c Chip) Sectors() int {
	return int(c.Size / c.SectorSize)
}

// SectorAddress returns the first address of sector index.
func (c Chip) SectorAddress(index int) uint32 {
	return uint32(index) * c.SectorSize
}

// ValidSector reports whether index names a sector on the chip.
func (c Chip) ValidSector(index int) bool {
	return index >= 0 && index < c.Sectors()
}
