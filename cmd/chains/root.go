package main

import (
	"github.com/spf13/cobra"

	"github.com/favbox/eino-chains/internal/config"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "chains",
		Short:        "Composable LLM pipelines",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./config.yml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file (default ./.env)")

	cmd.AddCommand(
		newListCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
		newNATSCmd(opts),
		newIndexCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var opts []config.Option
	if o.configFile != "" {
		opts = append(opts, config.WithConfigFile(o.configFile))
	}
	if o.envFile != "" {
		opts = append(opts, config.WithEnvFile(o.envFile))
	}
	return config.Load(opts...)
}
