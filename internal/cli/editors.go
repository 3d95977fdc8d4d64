package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var editorsCmd = &cobra.Command{
	Use:   "editors <document-id>",
	Short: "List who is currently viewing the document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, cleanup, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		editors, err := s.ActiveEditors(ctx)
		if err != nil {
			return err
		}
		if len(editors) == 0 {
			fmt.Println("nobody else is here")
			return nil
		}
		for _, e := range editors {
			fmt.Printf("%s\t%s\tlast heartbeat %s\n",
				e.ActorID, e.DisplayName, e.HeartbeatAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(editorsCmd)
}
