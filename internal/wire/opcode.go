package wire

import "fmt"

// Opcode identifies the operation carried by a frame.
type Opcode int32

const (
	OpRegister          Opcode = 1
	OpLogin             Opcode = 2
	OpAddEvent          Opcode = 3
	OpGetQuantity       Opcode = 4
	OpGetVolume         Opcode = 5
	OpGetAvgPrice       Opcode = 6
	OpGetMaxPrice       Opcode = 7
	OpFilterEvents      Opcode = 8
	OpSimultaneousSales Opcode = 9
	OpConsecutiveSales  Opcode = 10
	OpPriceQuantile     Opcode = 11
	OpGetToday          Opcode = 12
	OpStatus            Opcode = 13

	// Response opcodes.
	OpOK    Opcode = 200
	OpError Opcode = 255
)

var opcodeNames = map[Opcode]string{
	OpRegister:          "REGISTER",
	OpLogin:             "LOGIN",
	OpAddEvent:          "ADD_EVENT",
	OpGetQuantity:       "GET_QUANTITY",
	OpGetVolume:         "GET_VOLUME",
	OpGetAvgPrice:       "GET_AVG_PRICE",
	OpGetMaxPrice:       "GET_MAX_PRICE",
	OpFilterEvents:      "FILTER_EVENTS",
	OpSimultaneousSales: "SIMULTANEOUS_SALES",
	OpConsecutiveSales:  "CONSECUTIVE_SALES",
	OpPriceQuantile:     "PRICE_QUANTILE",
	OpGetToday:          "GET_TODAY",
	OpStatus:            "STATUS",
	OpOK:                "OK",
	OpError:             "ERROR",
}

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", int32(o))
}

// RequiresLogin reports whether the operation needs an authenticated session.
func (o Opcode) RequiresLogin() bool {
	return o != OpRegister && o != OpLogin
}

// IsBlocking reports whether the operation may block until a day rolls.
func (o Opcode) IsBlocking() bool {
	return o == OpSimultaneousSales || o == OpConsecutiveSales
}
