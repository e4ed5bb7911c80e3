package ipmi

// Command is one of the power operations the bridge exposes.
type Command int

// Supported commands. The zero value is not a valid command.
const (
	PowerOn Command = iota + 1
	PowerOff
	PowerCycle
	PowerReset
	SoftShutdown
)

// commandPaths is the bridge sub-path of every command. Each Command
// constant above must have an entry; command_test.go enforces it.
var commandPaths = map[Command]string{
	PowerOn:      "power_on",
	PowerOff:     "power_off",
	PowerCycle:   "power_cycle",
	PowerReset:   "power_reset",
	SoftShutdown: "soft_shutdown",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandPaths))
	for c, p := range commandPaths {
		m[p] = c
	}
	return m
}()

// AllCommands returns every supported command in declaration order.
func AllCommands() []Command {
	return []Command{PowerOn, PowerOff, PowerCycle, PowerReset, SoftShutdown}
}

// CommandNames returns the wire names of AllCommands.
func CommandNames() []string {
	all := AllCommands()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.String()
	}
	return names
}

// ParseCommand resolves a wire name such as "power_cycle".
func ParseCommand(name string) (Command, error) {
	if c, ok := commandsByName[name]; ok {
		return c, nil
	}
	return 0, &UnknownCommandError{Name: name}
}

// Valid reports whether c is a supported command.
func (c Command) Valid() bool {
	_, ok := commandPaths[c]
	return ok
}

// Path is the bridge sub-path, or "" for an invalid command.
func (c Command) Path() string {
	return commandPaths[c]
}

func (c Command) String() string {
	if p, ok := commandPaths[c]; ok {
		return p
	}
	return "unknown"
}

// MarshalText encodes the wire name.
func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, &UnknownCommandError{Name: c.String()}
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a wire name.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
