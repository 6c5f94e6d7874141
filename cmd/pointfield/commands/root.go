package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the pointfield release reported by the version command.
const Version = "0.1.0"

var (
	cfgFile string
	v       *viper.Viper
)

// rootCmd represents the base command
var rootCmd = newRootCmd()

// newRootCmd builds the command tree around a fresh viper instance that the flags are bound to.
func newRootCmd() *cobra.Command {
	v = viper.New()
	cmd := &cobra.Command{
		Use:          "pointfield",
		Short:        "Animate a GPU point field with shared render/compute buffers",
		Version:      Version,
		SilenceUsage: true,
		Long: `pointfield seeds a disc of points into GPU vertex buffers, hands them to a
compute kernel every frame and draws the result, transferring ownership of the
buffers between the render and compute subsystems in between.

Backends: host (headless, CPU kernels over host memory), wgpu (WebGPU compute
and render) and gl (OpenGL 3.3 with CPU kernels over mapped buffers).`,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pointfield.yaml or $HOME/.pointfield/pointfield.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newRunCmd(), newLayoutsCmd(), newVersionCmd())
	return cmd
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
