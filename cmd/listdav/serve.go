// Serve command: wires the stores together and runs the DAV server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/bridge"
	"github.com/cleverlist/listdav/domain"
	"github.com/cleverlist/listdav/server"
	"github.com/cleverlist/listdav/tree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DAV server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.GetBool(cfgKeyVerbose) {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		treeStore, err := tree.Open(cfg.GetString(cfgKeyDB), tree.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open resource tree: %w", err)
		}
		defer treeStore.Close()

		domainStore, err := domain.OpenStore(cfg.GetString(cfgKeyDB), domain.WithStoreLogger(logger))
		if err != nil {
			return fmt.Errorf("open domain store: %w", err)
		}
		defer domainStore.Close()

		blobs := blob.New(cfg.GetString(cfgKeyBlobDir), blob.WithLogger(logger))

		// Deleted files take their stored content with them.
		treeStore.OnDelete = func(res tree.Resource) {
			if res.IsCollection {
				return
			}
			obj := blob.Object{OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size}
			if err := blobs.Delete(obj); err != nil {
				logger.Warn("deleting content failed", "resource", res.UUID, "error", err)
			}
		}

		br := bridge.New(treeStore, blobs, domainStore, bridge.WithLogger(logger))
		br.Hook()

		h := server.New(cfg.GetString(cfgKeyPrefix), treeStore, blobs, br, domainStore,
			server.WithLogger(logger),
			server.WithRealm(cfg.GetString(cfgKeyRealm)))

		ctx := context.Background()
		for _, name := range []string{bridge.TaskCollection, bridge.ItemCollection, bridge.InventoryCollection} {
			if _, err := h.EnsureCalendar(ctx, tree.SharedOwner, "calendars", name); err != nil {
				return fmt.Errorf("provision calendar %q: %w", name, err)
			}
		}

		mux := http.NewServeMux()
		mux.Handle(h.Prefix, h)
		mux.Handle("/.well-known/caldav", h.WellKnown())

		addr := cfg.GetString(cfgKeyListen)
		logger.Info("listening", "addr", addr, "prefix", h.Prefix)
		return http.ListenAndServe(addr, mux)
	},
}
