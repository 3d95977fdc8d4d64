package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgadrian/collabkit"
)

var watchCmd = &cobra.Command{
	Use:   "watch <document-id>",
	Short: "Print presence, lock and conflict events until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, cleanup, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		s.OnPresenceChanged(func(editors []collabkit.PresenceEntry) {
			names := make([]string, 0, len(editors))
			for _, e := range editors {
				names = append(names, e.DisplayName)
			}
			fmt.Printf("editors: %v\n", names)
		})
		s.OnFieldLockChanged(func(fieldPath string, holder *collabkit.FieldLock) {
			if holder == nil {
				fmt.Printf("lock: %s is free\n", fieldPath)
				return
			}
			fmt.Printf("lock: %s held by %s until %s\n",
				fieldPath, holder.HolderDisplayName, holder.ExpiresAt.Format(time.TimeOnly))
		})
		s.OnConflict(func(at time.Time, by string) {
			fmt.Printf("conflict: document updated by %s at %s\n", by, at.Format(time.RFC3339))
		})

		fmt.Printf("watching %q as %s, ctrl-c to stop\n", args[0], s.Actor().DisplayName)
		<-ctx.Done()
		return nil
	},
}

func init() {
	RootCmd.AddCommand(watchCmd)
}
