// Package process supervises one long-running child process.
//
// The service uses it to run the IPMI HTTP bridge daemon alongside itself
// when that daemon is not deployed separately. A Manager starts the binary
// in its own process group, relays its output to the logger, restarts it
// with exponential backoff when it exits, and kills it when its health
// check keeps failing.
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "ipmi-http-bridge",
//	    Binary:           "/usr/local/bin/ipmi-http-bridge",
//	    Args:             []string{"--port", "9595"},
//	    RestartOnFailure: true,
//	    HealthCheck:      client.Ping,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
