package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"twlv/pkg/identity"
)

var rootCmd = &cobra.Command{
	Use:   "twlv-node",
	Short: "twlv mesh node",
	Long: `twlv-node runs a twlv mesh node: it listens on the configured
transports, exchanges signed announces with its peers, relays frames
across the mesh, and delivers messages addressed to its own identity.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runDaemon(configPath)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node identity keyfile",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(out); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", out)
		}
		id, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := id.Save(out); err != nil {
			return err
		}
		fmt.Printf("address : %s\n", id.Address())
		fmt.Printf("keyfile : %s\n", out)
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "", "path to YAML config file")

	keygenCmd.Flags().String("out", "identity.json", "output path for the keyfile")
	keygenCmd.Flags().Bool("force", false, "overwrite an existing keyfile")

	sendCmd.Flags().String("config", "", "path to YAML config file")
	sendCmd.Flags().String("url", "", "transport URL to dial first (proto:address)")
	sendCmd.Flags().String("to", "", "destination address (20 hex chars, empty = broadcast)")
	sendCmd.Flags().String("command", "chat.msg", "command routing key")
	sendCmd.Flags().String("text", "hello twlv", "payload text")
	sendCmd.Flags().Bool("sign", true, "sign the envelope")
	sendCmd.Flags().Bool("encrypt", false, "encrypt the payload to the destination")
	sendCmd.Flags().Duration("timeout", defaultSendTimeout, "overall dial/handshake/send budget")

	rootCmd.AddCommand(runCmd, keygenCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
