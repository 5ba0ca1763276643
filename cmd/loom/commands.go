package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (store=%s blob=%s agents=%d)\n",
				configPath, cfg.Store.Backend, cfg.Blob.Backend, len(cfg.Agents))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent configurations",
	}
	cmd.AddCommand(buildAgentsListCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents declared in configuration and persisted in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runAgentsList(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	blobs, err := openBlobStorage(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to open blob storage: %w", err)
	}
	stores, err := openStores(ctx, cfg.Store, blobs)
	if err != nil {
		return fmt.Errorf("failed to open store backend: %w", err)
	}
	defer stores.Close()

	// Declared agents are the source of truth for fresh backends.
	for _, decl := range cfg.Agents {
		agent := decl.ToAgent()
		if err := stores.Agents.Put(ctx, &agent); err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", agent.ID, err)
		}
	}

	agents, err := stores.Agents.List(ctx, store.AgentFilter{})
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No agents configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tMODEL\tTOOLKITS")
	for _, agent := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			agent.ID, agent.Name, agent.Mode, agent.Model, joinOrDash(agent.Toolkits))
	}
	return w.Flush()
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	out := items[0]
	for _, item := range items[1:] {
		out += "," + item
	}
	return out
}
