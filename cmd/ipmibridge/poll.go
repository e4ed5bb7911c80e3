package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// passwordEnv is read when --password is not given, keeping the BMC
// password out of the process list.
const passwordEnv = "IPMI_PASSWORD"

// connFlags are the flags shared by the one-shot poll and command
// subcommands.
type connFlags struct {
	bridgeURL string
	timeout   time.Duration
	host      string
	port      int
	alias     string
	username  string
	password  string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.bridgeURL, "bridge-url", ipmi.DefaultBridgeURL, "base URL of the IPMI HTTP bridge")
	cmd.Flags().DurationVar(&f.timeout, "timeout", ipmi.DefaultTimeout, "request timeout")
	cmd.Flags().StringVar(&f.host, "host", "", "BMC host name or address")
	cmd.Flags().IntVar(&f.port, "port", ipmi.DefaultPort, "BMC port")
	cmd.Flags().StringVar(&f.alias, "alias", "", "display name, also used for the device identity")
	cmd.Flags().StringVarP(&f.username, "user", "u", ipmi.DefaultUsername, "BMC user")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "BMC password (env "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("host") //nolint:errcheck // flag is registered above
}

func (f *connFlags) conn() ipmi.ConnectionConfig {
	password := f.password
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	return ipmi.ConnectionConfig{
		Host:     f.host,
		Port:     f.port,
		Alias:    f.alias,
		Username: f.username,
		Password: password,
	}
}

func (f *connFlags) client() (*ipmi.Client, error) {
	return ipmi.NewClient(ipmi.ClientOptions{
		BaseURL: f.bridgeURL,
		Timeout: f.timeout,
	})
}

// pollOutput is what `ipmibridge poll` prints.
type pollOutput struct {
	Name        string          `json:"name"`
	Identity    string          `json:"identity,omitempty"`
	Info        ipmi.DeviceInfo `json:"info"`
	PowerStatus string          `json:"power_status"`
	Sensors     []ipmi.Sensor   `json:"sensors"`
	Snapshot    ipmi.Snapshot   `json:"snapshot"`
}

func newPollCmd() *cobra.Command {
	var flags connFlags

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch one status from a BMC and print it as JSON",
		Long: `Fetch one status from a BMC through the IPMI HTTP bridge and print the
snapshot, the derived identity and the decorated sensor list as JSON.

Nothing is published or stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			poller, err := ipmi.NewPoller(flags.conn(), client)
			if err != nil {
				return err
			}

			snap, err := poller.Update(cmd.Context())
			if err != nil {
				return fmt.Errorf("polling %s: %w", flags.host, err)
			}

			out := pollOutput{
				Name:        poller.Name(),
				Info:        snap.Info(),
				PowerStatus: snap.PowerStatus(),
				Sensors:     snap.SensorList(),
				Snapshot:    snap,
			}
			if id, ok := ipmi.StableIdentity(snap); ok {
				out.Identity = id
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	flags.register(cmd)
	return cmd
}

func newCommandCmd() *cobra.Command {
	var flags connFlags

	cmd := &cobra.Command{
		Use:       "command <name>",
		Short:     "Send one power command to a BMC",
		Long:      "Send one power command to a BMC through the IPMI HTTP bridge.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: ipmi.CommandNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, err := ipmi.ParseCommand(name); err != nil {
				return fmt.Errorf("%w (valid: %v)", err, ipmi.CommandNames())
			}

			client, err := flags.client()
			if err != nil {
				return err
			}
			dispatcher, err := ipmi.NewDispatcher(flags.conn(), client, nil)
			if err != nil {
				return err
			}

			if err := dispatcher.Dispatch(cmd.Context(), name); err != nil {
				return fmt.Errorf("%s on %s: %w", name, flags.host, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s accepted by %s\n", name, flags.host)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
