package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgadrian/collabkit"
)

var saveForce bool

var saveCmd = &cobra.Command{
	Use:   "save <document-id> <key=value>...",
	Short: "Save payload fields, detecting conflicting remote saves",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		payload := map[string]interface{}{}
		for _, pair := range args[1:] {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("expected key=value, got %q", pair)
			}
			payload[k] = v
		}

		s, cleanup, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		s.MarkDirty()
		if saveForce {
			if err := s.ForceSave(ctx, payload); err != nil {
				return err
			}
			fmt.Println("force-saved")
			return nil
		}

		err = s.Save(ctx, payload)
		var conflict *collabkit.ConflictError
		if errors.As(err, &conflict) {
			fmt.Printf("conflict: %s saved at %s, rerun with --force to overwrite\n",
				conflict.RemoteUpdatedBy, conflict.RemoteUpdatedAt.Format(time.RFC3339))
			return err
		}
		if err != nil {
			return err
		}
		fmt.Println("saved")
		return nil
	},
}

func init() {
	saveCmd.Flags().BoolVar(&saveForce, "force", false, "overwrite regardless of remote changes")
	RootCmd.AddCommand(saveCmd)
}
