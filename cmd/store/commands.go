package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// resolve maps a store name argument to its id.
func resolve(name string) (uint64, error) {
	ctx, cancel := opCtx()
	defer cancel()

	id, found, err := mgr.FindStore(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("store %q does not exist", name)
	}
	return id, nil
}

var (
	createCmd = &cobra.Command{
		Use:   "create [name] [keyType] [valueType]",
		Short: "Creates a named store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			id, err := mgr.CreateOrGetStore(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, id=%d\n", args[0], id)
			return nil
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [name]",
		Short: "Resolves a store name to its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			id, found, err := mgr.FindStore(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, found=%v, id=%d\n", args[0], found, id)
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [name]",
		Short: "Removes a store and all of its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.RemoveStore(ctx, id); err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [name]",
		Short: "Prints a store's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			keyType, err := mgr.GetKeyTypeName(ctx, id)
			if err != nil {
				return err
			}
			valueType, err := mgr.GetValueTypeName(ctx, id)
			if err != nil {
				return err
			}
			size, err := mgr.Size(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, id=%d, keyType=%s, valueType=%s, size=%d\n", args[0], id, keyType, valueType, size)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [store] [key] [value]",
		Short: "Writes a data item into a store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.Put(ctx, id, []byte(args[1]), []byte(args[2])); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [store] [key]",
		Short: "Reads a data item from a store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			value, found, err := mgr.Get(ctx, id, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", args[1], found, value)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [store] [key]",
		Short: "Checks whether a data item exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			found, err := mgr.Has(ctx, id, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v\n", args[1], found)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [store] [key]",
		Short: "Deletes a data item from a store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			found, err := mgr.Remove(ctx, id, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, existed=%v\n", args[1], found)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear [store]",
		Short: "Removes all data items of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.Clear(ctx, id); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size [store]",
		Short: "Prints the number of data items in a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			size, err := mgr.Size(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("size=%d\n", size)
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys [store]",
		Short: "Lists all data item keys of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opCtx()
			defer cancel()

			it, err := mgr.NewIterator(ctx, id)
			if err != nil {
				return err
			}
			for it.HasNext() {
				key, _, err := it.GetNext()
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", key)
			}
			return nil
		},
	}
	ttlPutCmd = &cobra.Command{
		Use:   "ttl-put [key] [value] [ttlSeconds]",
		Short: "Writes an expiring item into the global TTL store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttlSec, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("ttlSeconds must be a number: %w", err)
			}

			ctx, cancel := opCtx()
			defer cancel()

			if err := mgr.PutTTL(ctx, []byte(args[0]), []byte(args[1]), time.Duration(ttlSec)*time.Second); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	ttlGetCmd = &cobra.Command{
		Use:   "ttl-get [key]",
		Short: "Reads an item from the global TTL store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			value, found, err := mgr.GetTTL(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", args[0], found, value)
			return nil
		},
	}
	ttlDelCmd = &cobra.Command{
		Use:   "ttl-del [key]",
		Short: "Deletes an item from the global TTL store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opCtx()
			defer cancel()

			found, err := mgr.RemoveTTL(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, existed=%v\n", args[0], found)
			return nil
		},
	}
)
