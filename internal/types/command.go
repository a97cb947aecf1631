package types

// CommandKind enumerates the discrete user commands accepted by the engine.
// Commands are queued and drained once per tick; presentation code never
// mutates trading state directly.
type CommandKind string

const (
	CmdBuy          CommandKind = "BUY"
	CmdSell         CommandKind = "SELL"
	CmdClose        CommandKind = "CLOSE"
	CmdSetDeviation CommandKind = "SET_DEVIATION"
	CmdToggleAuto   CommandKind = "TOGGLE_AUTO"
	CmdCancelAll    CommandKind = "CANCEL_ALL"
	CmdStop         CommandKind = "STOP"
)

type Command struct {
	Kind  CommandKind
	Value float64 // deviation for SET_DEVIATION, otherwise unused
}
