package store

import (
	"context"

	"github.com/ValentinKolb/dps/cmd/util"
	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/storemgr"
	"github.com/spf13/cobra"
)

var (
	be  backend.Backend
	mgr storemgr.IStoreManager

	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:                "store",
		Short:              "Perform store operations",
		PersistentPreRunE:  setupStoreManager,
		PersistentPostRunE: teardownStoreManager,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common backend flags to the store command
	util.SetupBackendFlags(StoreCommands)

	// Add subcommands
	StoreCommands.AddCommand(createCmd)
	StoreCommands.AddCommand(findCmd)
	StoreCommands.AddCommand(removeCmd)
	StoreCommands.AddCommand(infoCmd)
	StoreCommands.AddCommand(putCmd)
	StoreCommands.AddCommand(getCmd)
	StoreCommands.AddCommand(hasCmd)
	StoreCommands.AddCommand(delCmd)
	StoreCommands.AddCommand(clearCmd)
	StoreCommands.AddCommand(sizeCmd)
	StoreCommands.AddCommand(keysCmd)
	StoreCommands.AddCommand(ttlPutCmd)
	StoreCommands.AddCommand(ttlGetCmd)
	StoreCommands.AddCommand(ttlDelCmd)
}

// setupStoreManager connects to the configured backend
func setupStoreManager(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	b, dir, err := util.GetBackend(context.Background())
	if err != nil {
		return err
	}

	be = b
	mgr = storemgr.NewStoreManager(be, dir, nil)
	return nil
}

func teardownStoreManager(*cobra.Command, []string) error {
	if be != nil {
		return be.Close()
	}
	return nil
}

// opCtx returns the bounded context of one command invocation.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), util.GetTimeout())
}
