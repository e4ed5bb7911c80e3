package ipmi

import (
	"context"
	"fmt"
	"net/http"
)

// Dispatcher sends power commands for one BMC.
//
// Commands are fire-and-forget: the response body is not interpreted and
// the result says nothing about the device's actual power state. Callers
// observe the effect through a later poll. The Dispatcher never touches a
// Poller's cached snapshot.
type Dispatcher struct {
	conn   ConnectionConfig
	client *Client
	logger Logger
}

// NewDispatcher creates a dispatcher for conn.
func NewDispatcher(conn ConnectionConfig, client *Client, logger Logger) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{conn: conn, client: client, logger: logger}, nil
}

// Dispatch resolves name and executes it. An unknown name fails with
// *UnknownCommandError before any request is made.
func (d *Dispatcher) Dispatch(ctx context.Context, name string) error {
	cmd, err := ParseCommand(name)
	if err != nil {
		d.logger.Warn("rejected ipmi command", "host", d.conn.Host, "command", name)
		return err
	}
	return d.Execute(ctx, cmd)
}

// Execute issues exactly one request for cmd.
//
// Transport failures (including an HTTP error status from the bridge) are
// logged and returned as *TransportError. Nothing is retried.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return &UnknownCommandError{Name: cmd.String()}
	}

	resp, err := d.client.get(ctx, d.conn, cmd.Path())
	if err == nil && resp.status >= http.StatusBadRequest {
		err = fmt.Errorf("bridge returned http %d", resp.status)
	}
	if err != nil {
		terr := &TransportError{Host: d.conn.Host, Path: cmd.Path(), Err: err}
		d.logger.Error("error connecting to IPMI bridge",
			"host", d.conn.Host,
			"command", cmd.String(),
			"error", terr,
		)
		return terr
	}

	d.logger.Info("ipmi command sent", "host", d.conn.Host, "command", cmd.String())
	return nil
}

// PowerOn requests chassis power on.
func (d *Dispatcher) PowerOn(ctx context.Context) error { return d.Execute(ctx, PowerOn) }

// PowerOff requests a hard power off.
func (d *Dispatcher) PowerOff(ctx context.Context) error { return d.Execute(ctx, PowerOff) }

// PowerCycle requests a power cycle.
func (d *Dispatcher) PowerCycle(ctx context.Context) error { return d.Execute(ctx, PowerCycle) }

// PowerReset requests a hard reset.
func (d *Dispatcher) PowerReset(ctx context.Context) error { return d.Execute(ctx, PowerReset) }

// SoftShutdown requests an ACPI soft shutdown.
func (d *Dispatcher) SoftShutdown(ctx context.Context) error { return d.Execute(ctx, SoftShutdown) }
