package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgadrian/collabkit"
)

var holdForce bool

var holdCmd = &cobra.Command{
	Use:   "hold <document-id> <field-path>",
	Short: "Acquire a field lock and hold it until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, cleanup, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		field := args[1]
		var lost <-chan struct{}
		if holdForce {
			lost, err = s.ForceTakeover(ctx, field)
		} else {
			lost, err = s.Acquire(ctx, field)
		}
		var denied *collabkit.DeniedError
		if errors.As(err, &denied) {
			fmt.Printf("denied: %s, rerun with --force to take over\n", denied)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("holding %s on %q as %s, ctrl-c to release\n", field, args[0], s.Actor().DisplayName)
		select {
		case <-ctx.Done():
			return s.Release(context.Background(), field)
		case <-lost:
			fmt.Println("lease lost")
			return nil
		}
	},
}

func init() {
	holdCmd.Flags().BoolVar(&holdForce, "force", false, "take the lock over from the current holder")
	RootCmd.AddCommand(holdCmd)
}
