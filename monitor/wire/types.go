package wire

// Commands accepted by the monitor.
const (
	CommandStatus    = "status"
	CommandRead      = "read"
	CommandWrite     = "write"
	CommandInterrupt = "interrupt"
	CommandReceive   = "receive"
)

// Request is sent by the client to execute command.
type Request struct {
	Command string
	Address uint64
	Size    uint64
	Value   uint64
	Data    string
}

// Response is the result of command.
type Response struct {
	Value uint64
	Data  string
	Error string
}

// Counter is the named value of device counter.
type Counter struct {
	Name  string
	Value uint64
}

// Status is the response to status command.
type Status struct {
	Counters  []Counter
	MemState  string
	IntrState string
	Signal    uint64
}
