package protocol

// State is the protocol state register shared by the command dispatcher and
// the sector programming machine.
type State int

const (
	WaitingForCommand State = iota

	BeginProgramSector
	ProgramSectorGotIndex
	ProgramSectorIndexConfirmed
	ProgramSectorGotData

	BeginEraseChip

	Done
)

var stateNames = map[State]string{
	WaitingForCommand:           "WAITING_FOR_COMMAND",
	BeginProgramSector:          "BEGIN_PROGRAM_SECTOR",
	ProgramSectorGotIndex:       "PROGRAM_SECTOR_GOT_INDEX",
	ProgramSectorIndexConfirmed: "PROGRAM_SECTOR_INDEX_CONFIRMED",
	ProgramSectorGotData:        "PROGRAM_SECTOR_GOT_DATA",
	BeginEraseChip:              "BEGIN_ERASE_CHIP",
	Done:                        "DONE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsSectorState reports whether s belongs to the sector programming machine.
func (s State) IsSectorState() bool {
	switch s {
	case BeginProgramSector, ProgramSectorGotIndex, ProgramSectorIndexConfirmed, ProgramSectorGotData:
		return true
	}
	return false
}

// Outcome is the side effect a confirm checkpoint asks for.
type Outcome int

const (
	// Proceed: the echo was acknowledged.
	Proceed Outcome = iota
	// Retry: the echo was rejected, the previous step runs again.
	Retry
	// Abort: an unexpected byte arrived, the transaction is dropped.
	Abort
)

// Confirm is the transition taken at a confirm checkpoint (GotIndex or
// GotData) on receiving b. It performs no I/O.
func Confirm(state State, b byte) (State, Outcome) {
	switch b {
	case Ack:
		if state == ProgramSectorGotIndex {
			return ProgramSectorIndexConfirmed, Proceed
		}
		// GotData only leaves through the commit.
		return state, Proceed
	case Nak:
		if state == ProgramSectorGotIndex {
			return BeginProgramSector, Retry
		}
		return ProgramSectorIndexConfirmed, Retry
	default:
		return WaitingForCommand, Abort
	}
}
