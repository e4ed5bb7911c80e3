package ipmi

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	core "github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// unit is one configured BMC: its poller, its dispatcher and what the
// bridge has learnt about it so far.
type unit struct {
	key        string
	conn       core.ConnectionConfig
	poller     *core.Poller
	dispatcher *core.Dispatcher
	interval   time.Duration

	mu         sync.RWMutex
	identity   string
	registered bool
	info       core.DeviceInfo
	online     bool
	lastPoll   time.Time
	lastErr    error
	failures   int
	published  map[string]any
}

// DeviceStatus is the bridge's view of one configured device.
type DeviceStatus struct {
	// Key is the configured device id.
	Key string `json:"key"`

	// DeviceID is the derived identity; empty until the first successful poll.
	DeviceID   string `json:"device_id,omitempty"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
	Online     bool   `json:"online"`

	ScanInterval        time.Duration `json:"scan_interval"`
	LastPoll            *time.Time    `json:"last_poll,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

func (u *unit) address() string {
	return net.JoinHostPort(u.conn.Host, strconv.Itoa(u.conn.Port))
}

func (u *unit) getIdentity() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.identity
}

func (u *unit) status() DeviceStatus {
	u.mu.RLock()
	defer u.mu.RUnlock()

	s := DeviceStatus{
		Key:                 u.key,
		DeviceID:            u.identity,
		Name:                displayName(u.poller.Name()),
		Address:             u.address(),
		Registered:          u.registered,
		Online:              u.online,
		ScanInterval:        u.interval,
		ConsecutiveFailures: u.failures,
	}
	if !u.lastPoll.IsZero() {
		t := u.lastPoll
		s.LastPoll = &t
	}
	if u.lastErr != nil {
		s.LastError = u.lastErr.Error()
	}
	return s
}

// displayName title-cases a poller name: a letter that follows another
// cased letter is lower-cased, every other letter is upper-cased. "rack3"
// becomes "Rack3" and "IPMI-10.0.0.5" becomes "Ipmi-10.0.0.5".
func displayName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	prevCased := false
	for _, r := range name {
		cased := unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
		switch {
		case cased && prevCased:
			sb.WriteRune(unicode.ToLower(r))
		case cased:
			sb.WriteRune(unicode.ToTitle(r))
		default:
			sb.WriteRune(r)
		}
		prevCased = cased
	}
	return sb.String()
}
