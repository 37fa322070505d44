package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/covekit/cove/pkg/config"
	"github.com/covekit/cove/pkg/log"
	"github.com/covekit/cove/pkg/metrics"
	"github.com/covekit/cove/pkg/pool"
	"github.com/covekit/cove/pkg/transport"
	"github.com/covekit/cove/pkg/volume"
)

var (
	// Version is set via ldflags during build
	Version = "dev"
)

var (
	configPath string
	poolDir    string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var we *config.WriteError
		if errors.As(err, &we) {
			fmt.Fprintf(os.Stderr, "Writing config file %s failed: %s\n", we.Path, we.Reason())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cove",
	Short: "cove - copy-on-write volume engine",
	Long: `cove manages named storage volumes backed by a copy-on-write
filesystem pool and replicates them between hosts by streaming snapshot
diffs over ssh or a local subprocess.`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
		metrics.Register()
	},
	// Running with no subcommand still initializes the service, so
	// "cove --config path" creates the identity file at path on first use.
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Printf("Owner UUID: %s\n", svc.UUID())
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/cove/volume.json",
		"Path of the owner identity config file")
	rootCmd.PersistentFlags().StringVar(&poolDir, "pool", "/var/lib/cove/pool",
		"Root directory of the storage pool")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"Emit logs as JSON")

	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(applyCmd)
}

// newService opens the pool and starts a volume service against it. The
// cleanup func releases the pool's metadata lock.
func newService() (*volume.Service, func(), error) {
	p, err := pool.Open(poolDir)
	if err != nil {
		return nil, nil, err
	}

	svc, err := volume.NewService(&volume.ServiceConfig{
		Config: config.NewStore(configPath),
		Pool:   p,
	})
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	if err := svc.Start(); err != nil {
		p.Close()
		return nil, nil, err
	}
	return svc, func() { p.Close() }, nil
}

// Volume commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		vol, err := svc.Create(args[0])
		if err != nil {
			return err
		}
		fs, err := vol.Filesystem()
		if err != nil {
			return err
		}
		fmt.Printf("Created volume %s at %s\n", vol.Name, fs.Path())
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		volumes, err := svc.Enumerate()
		if err != nil {
			return err
		}
		for _, vol := range volumes {
			fmt.Println(vol.Name)
		}
		return nil
	},
}

var volumeDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a volume and its snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		return svc.Destroy(args[0])
	},
}

func init() {
	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeDestroyCmd)
}

// receiveCmd applies a snapshot diff stream from standard input. It is
// normally invoked by a pushing origin over the transport, not by hand.
var receiveCmd = &cobra.Command{
	Use:   "receive <origin-uuid> <name>",
	Short: "Apply a snapshot diff stream from standard input",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		_, err = svc.Receive(args[0], args[1], os.Stdin)
		return err
	},
}

// snapshotsCmd prints a volume's snapshot ids as JSON. The pushing origin
// runs it to select an incremental base; a missing volume yields an empty
// list, meaning a full send.
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <origin-uuid> <name>",
	Short: "List a volume's snapshot ids as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		ids, err := svc.SnapshotIDs(args[1])
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(ids)
	},
}

var (
	pushTo         string
	pushDestConfig string
)

var pushCmd = &cobra.Command{
	Use:   "push <name>",
	Short: "Push a volume to a destination host",
	Long: `Push replicates a volume to a destination. With --to the receive
command runs over ssh on that host; without it, a local subprocess is used,
which replicates between two pools on the same machine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		vol, err := svc.Get(args[0])
		if err != nil {
			return err
		}

		var node transport.Node
		if pushTo != "" {
			node = transport.NewSSHNode(pushTo)
		} else {
			node = transport.NewProcessNode()
		}

		return svc.Push(cmd.Context(), vol, node, pushDestConfig)
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushTo, "to", "",
		"Destination host (user@host) reached over ssh; empty runs locally")
	pushCmd.Flags().StringVar(&pushDestConfig, "dest-config", "/etc/cove/volume.json",
		"Config file path of the destination's volume service")
}
