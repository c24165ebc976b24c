// Adduser command: creates a principal and its group memberships.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleverlist/listdav/domain"
)

var (
	addUserPassword string
	addUserGroups   []string
)

var addUserCmd = &cobra.Command{
	Use:   "adduser <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		store, err := domain.OpenStore(cfg.GetString(cfgKeyDB))
		if err != nil {
			return fmt.Errorf("open domain store: %w", err)
		}
		defer store.Close()

		username := args[0]
		ctx := cmd.Context()
		if err := store.AddUser(ctx, username, addUserPassword); err != nil {
			return fmt.Errorf("add user: %w", err)
		}
		for _, group := range addUserGroups {
			if err := store.AddUserToGroup(ctx, username, group); err != nil {
				return fmt.Errorf("add to group %q: %w", group, err)
			}
		}
		fmt.Println("user created:", username)
		return nil
	},
}

func init() {
	addUserCmd.Flags().StringVar(&addUserPassword, "password", "", "password for the new user")
	addUserCmd.Flags().StringSliceVar(&addUserGroups, "group", nil, "group memberships (repeatable)")
	addUserCmd.MarkFlagRequired("password")
}
