package main

import (
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/sdk/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "GEORISK"

type cliOptions struct {
	v *viper.Viper
}

func (o *cliOptions) client() *client.Client {
	return client.New(o.v.GetString("gateway"), o.v.GetString("api-key"))
}

func (o *cliOptions) jsonOutput() bool { return o.v.GetBool("json") }

func (o *cliOptions) timeout() time.Duration { return o.v.GetDuration("timeout") }

// newRootCommand wires flags through viper so each setting can also come
// from GEORISK_* variables or a YAML config file.
func newRootCommand() *cobra.Command {
	opts := &cliOptions{v: viper.New()}
	var configFile string

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "CLI client for the georisk gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd, configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String("gateway", "http://localhost:8080", "gateway base URL")
	flags.String("api-key", "", "API key for write routes")
	flags.Duration("timeout", 30*time.Second, "per-command timeout (watch ignores it)")
	flags.Bool("json", false, "output JSON")

	root.AddCommand(
		newToolsCmd(opts),
		newScoreCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *cliOptions) load(cmd *cobra.Command, configFile string) error {
	v := o.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}
