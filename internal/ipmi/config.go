package ipmi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Defaults for BMC connections and the bridge.
const (
	// DefaultPort is the standard RMCP+ port of a BMC.
	DefaultPort = 623

	// DefaultUsername is the factory account on most Supermicro-style BMCs.
	DefaultUsername = "ADMIN"

	// DefaultBridgeURL is where the HTTP bridge listens when run alongside.
	DefaultBridgeURL = "http://localhost:9595"

	// DefaultTimeout bounds every bridge request.
	DefaultTimeout = 10 * time.Second

	// namePrefix is prepended to the host when no alias is configured.
	namePrefix = "IPMI-"

	redacted = "[REDACTED]"
)

// ConnectionConfig identifies one BMC reachable through the bridge.
//
// It is treated as immutable once handed to NewPoller or NewDispatcher;
// both take a copy.
type ConnectionConfig struct {
	Host     string
	Port     int
	Alias    string // optional, operator-assigned display name
	Username string // optional
	Password string // optional, never logged
}

// Validate checks that the config can be turned into a bridge request.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

// Name returns the alias, or a label derived from the host.
func (c ConnectionConfig) Name() string {
	if c.Alias != "" {
		return c.Alias
	}
	return namePrefix + c.Host
}

// query builds the bridge query parameters. Empty credentials are omitted
// so the bridge falls back to its own defaults.
func (c ConnectionConfig) query() url.Values {
	q := url.Values{}
	q.Set("host", c.Host)
	q.Set("port", strconv.Itoa(c.Port))
	if c.Username != "" {
		q.Set("user", c.Username)
	}
	if c.Password != "" {
		q.Set("password", c.Password)
	}
	return q
}

// String returns a representation with the password masked.
func (c ConnectionConfig) String() string {
	password := ""
	if c.Password != "" {
		password = redacted
	}
	return fmt.Sprintf("ConnectionConfig{Host:%q, Port:%d, Alias:%q, Username:%q, Password:%s}",
		c.Host, c.Port, c.Alias, c.Username, password)
}

// MarshalJSON redacts the password.
func (c ConnectionConfig) MarshalJSON() ([]byte, error) {
	out := struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Alias    string `json:"alias,omitempty"`
		Username string `json:"username,omitempty"`
		Password string `json:"password,omitempty"`
	}{
		Host:     c.Host,
		Port:     c.Port,
		Alias:    c.Alias,
		Username: c.Username,
	}
	if c.Password != "" {
		out.Password = redacted
	}
	return json.Marshal(out)
}
