package lock

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/spf13/cobra"
)

var (
	lockMgr        lockmgr.ILockManager
	lockCollection string

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations",
		Long:              "Locks are documents in a temporary collection. A new primary drops the collection, which releases every lock.",
		PersistentPreRunE: setupLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and the owner ID returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands, 100)
	LockCommands.PersistentFlags().StringVar(&lockCollection, "collection", lockmgr.DefaultCollection, util.WrapString("The temporary collection holding the locks"))
}

// setupLockClient initializes the lock manager on top of a store client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	s, err := util.NewStore(cmd)
	if err != nil {
		return err
	}
	lockMgr = lockmgr.NewLockManager(s, lockCollection)
	return nil
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	acquired, ownerID, err := lockMgr.AcquireLock(args[0])
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", ownerID)
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	released, err := lockMgr.ReleaseLock(args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
