// Package cli implements the collabctl command, a terminal collaborator for
// inspecting and exercising document coordination: who is editing, which
// fields are locked, and what happens on conflicting saves.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocloud.dev/docstore"
	_ "gocloud.dev/docstore/memdocstore"

	"github.com/bgadrian/collabkit"
)

var (
	collectionURL string
	actorID       string
	actorName     string
	verbose       bool
)

// RootCmd is the collabctl entry point.
var RootCmd = &cobra.Command{
	Use:   "collabctl",
	Short: "Coordinate collaborative edits on a shared document",
	Long: `collabctl talks to the coordination record of a shared document:
presence, field locks and save conflicts. The collection is any docstore
URL; add driver imports for firestore, dynamodb or mongo as needed.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&collectionURL, "collection", "mem://coordination/id",
		"docstore collection URL holding coordination records")
	RootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "actor id (random when empty)")
	RootCmd.PersistentFlags().StringVar(&actorName, "name", "", "actor display name")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openSession builds and starts a session against the configured collection.
// The returned cleanup closes the session and the collection.
func openSession(ctx context.Context, docID string) (*collabkit.Session, func(), error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	coll, err := docstore.OpenCollection(ctx, collectionURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open collection %q: %w", collectionURL, err)
	}
	s := collabkit.New(coll, docID).
		WithIdentity(collabkit.StaticIdentity(actorID, actorName)).
		WithLogger(log).
		Build()
	if err := s.Start(ctx); err != nil {
		_ = coll.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = s.Close()
		_ = coll.Close()
		_ = log.Sync()
	}
	return s, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
