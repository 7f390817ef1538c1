package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michelhabib/privatehomebox/internal/state"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the gateway's public key and claim status",
	Long: `Print the gateway's Ed25519 public key (base64) and whether a desktop
has claimed this state directory. Creates the identity if the state
directory is empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := state.LoadOrInit(expandTilde(rootFlags.stateDir))
		if err != nil {
			return &exitError{1, err}
		}
		fmt.Printf("state dir:  %s\n", st.Dir())
		fmt.Printf("public key: %s\n", st.Identity().PublicBase64())
		fmt.Printf("claimed:    %v\n", st.IsClaimed())
		return nil
	},
}
