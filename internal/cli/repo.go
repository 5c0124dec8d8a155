package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/depot/internal/config"
	"github.com/matzehuels/depot/internal/store"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repository namespaces",
	}
	cmd.AddCommand(newRepoCreateCmd())
	return cmd
}

func newRepoCreateCmd() *cobra.Command {
	var (
		configPath string
		sub        bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a repository namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := loggerFromContext(cmd.Context())

			st, cleanup, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			repo := &store.Repository{Name: args[0], Sub: sub}
			if err := st.CreateRepository(cmd.Context(), repo); err != nil {
				return err
			}
			logger.Info("repository created", "name", repo.Name, "id", repo.ID, "sub", repo.Sub)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&sub, "sub", false, "create as sub repository")
	return cmd
}
