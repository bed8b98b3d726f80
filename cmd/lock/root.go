package lock

import (
	"context"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/lockmgr"
	"github.com/spf13/cobra"
)

var (
	be  backend.Backend
	mgr lockmgr.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform distributed lock operations",
		PersistentPreRunE:  setupLockManager,
		PersistentPostRunE: teardownLockManager,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common backend flags to the lock command
	util.SetupBackendFlags(LockCommands)

	// Add subcommands
	LockCommands.AddCommand(createCmd)
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(removeCmd)
	LockCommands.AddCommand(pidCmd)
}

// setupLockManager connects to the configured backend
func setupLockManager(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	b, dir, err := util.GetBackend(context.Background())
	if err != nil {
		return err
	}

	be = b
	mgr = lockmgr.NewLockManager(be, dir, nil)
	return nil
}

func teardownLockManager(*cobra.Command, []string) error {
	if be != nil {
		return be.Close()
	}
	return nil
}

// opCtx returns the bounded context of one command invocation.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), util.GetTimeout())
}
