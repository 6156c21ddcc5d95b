package repl

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// ReplicaSetCommands represents the replica set command group
	ReplicaSetCommands = &cobra.Command{
		Use:   "repl",
		Short: "Inspect and control the replica set role of a member",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			rpcStore, err = util.NewStore(cmd)
			return err
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Prints the role of the member behind the first endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := rpcStore.GetRoleStatus()
			if err != nil {
				return err
			}
			fmt.Println(status.String())
			return nil
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints engine statistics and the role of the member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := rpcStore.GetDBInfo()
			if err != nil {
				return err
			}
			return util.PrintJSON(info)
		},
	}

	stepDownHoldOff uint64
	stepDownForce   bool
	stepDownCmd     = &cobra.Command{
		Use:   "step-down",
		Short: "Makes the primary step down",
		Long:  "Makes the primary step down and not seek election again for the hold-off. Without --force a caught-up secondary must exist.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rpcStore.StepDown(stepDownHoldOff, stepDownForce); err != nil {
				return err
			}
			fmt.Println("stepped down successfully")
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(ReplicaSetCommands, 100)

	stepDownCmd.Flags().Uint64Var(&stepDownHoldOff, "hold-off", 60, util.WrapString("Seconds in which the member does not seek election"))
	stepDownCmd.Flags().BoolVar(&stepDownForce, "force", false, util.WrapString("Step down even if no secondary is caught up"))

	ReplicaSetCommands.AddCommand(statusCmd)
	ReplicaSetCommands.AddCommand(infoCmd)
	ReplicaSetCommands.AddCommand(stepDownCmd)
}
