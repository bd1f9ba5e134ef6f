package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlrepa/mlpanel-demo/pkg/pipeline"
)

func newStageCmd(a *app, st pipeline.Stage) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   st.Name,
		Short: fmt.Sprintf("Run the %s stage", st.Name),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv := pipeline.InvocationFromEnv(configPath)
			return pipeline.Execute(cmd.Context(), st, inv.ConfigPath, a.env(inv))
		},
	}
	cmd.Flags().StringVar(&configPath, st.Param, "", "pipeline config file")
	_ = cmd.MarkFlagRequired(st.Param)
	return cmd
}

func newMainCmd(a *app) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   pipeline.EntryMain,
		Short: "Run every stage under one parent run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv := pipeline.InvocationFromEnv(configPath)
			wf := &pipeline.Workflow{
				Tracking:     a.tracking,
				Launcher:     a.launcher(),
				Log:          a.log,
				ExperimentID: inv.ExperimentID,
			}
			return wf.Run(cmd.Context(), inv.ConfigPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "pipeline config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Select the experiment named after the estimator and run the workflow in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := &pipeline.Runner{Tracking: a.tracking, Launcher: a.launcher(), Log: a.log}
			return r.Run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", pipeline.DefaultConfigPath, "pipeline config file")
	return cmd
}
