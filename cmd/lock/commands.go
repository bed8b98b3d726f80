package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dps/lib/keys"
	"github.com/spf13/cobra"
)

var (
	leaseSeconds   int
	maxWaitSeconds int
)

func init() {
	acquireCmd.Flags().IntVar(&leaseSeconds, "lease", 5, "lease duration of the acquisition in seconds")
	acquireCmd.Flags().IntVar(&maxWaitSeconds, "max-wait", 10, "how long to keep retrying in seconds")
}

var (
	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Creates a named lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			id, err := mgr.CreateOrGetLock(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, id=%d\n", args[0], id)
			return nil
		},
	}
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquires a lock, retrying until the wait budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			id, err := mgr.CreateOrGetLock(ctx, args[0])
			if err != nil {
				return err
			}

			lease := time.Duration(leaseSeconds) * time.Second
			maxWait := time.Duration(maxWaitSeconds) * time.Second
			if err := mgr.AcquireLock(ctx, id, lease, maxWait); err != nil {
				return err
			}
			fmt.Printf("acquired, lease expires in %s\n", lease)
			return nil
		},
	}
	releaseCmd = &cobra.Command{
		Use:   "release [name]",
		Short: "Releases a previously acquired lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.ReleaseLock(ctx, keys.LockID(args[0])); err != nil {
				return err
			}
			fmt.Println("released successfully")
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [name]",
		Short: "Removes a lock from the directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.RemoveLock(ctx, keys.LockID(args[0])); err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}
	pidCmd = &cobra.Command{
		Use:   "pid [name]",
		Short: "Prints the process id currently holding a lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			pid, err := mgr.GetPidForLock(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, pid=%d\n", args[0], pid)
			return nil
		},
	}
)
