package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/appsworld/dce-macho"
	"github.com/appsworld/dce-macho/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// Verbose boolean flag for verbose logging
	Verbose bool
	// Color boolean flag for colorized output
	Color bool
	// AppVersion stores the tool's version
	AppVersion string
	// AppBuildTime stores the tool's build time
	AppBuildTime string
)

var (
	colorName = color.New(color.Bold).SprintFunc()
	colorAddr = color.New(color.Faint).SprintfFunc()
	colorCmd  = color.New(color.FgCyan).SprintFunc()
	colorOK   = color.New(color.FgGreen).SprintFunc()
	colorBad  = color.New(color.FgRed).SprintFunc()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dce-macho",
	Short: "Decode Mach-O headers and load commands",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if AppVersion != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", AppVersion, AppBuildTime)
	}
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dce-macho/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&Color, "color", false, "colorize output")
	rootCmd.PersistentFlags().Int64("offset", 0, "offset of the image inside the file")
	rootCmd.PersistentFlags().Int64("size", 0, "size of the image region (0 means unbounded)")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("color", rootCmd.PersistentFlags().Lookup("color"))
	viper.BindPFlag("offset", rootCmd.PersistentFlags().Lookup("offset"))
	viper.BindPFlag("size", rootCmd.PersistentFlags().Lookup("size"))
	viper.BindEnv("color", "CLICOLOR")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "dce-macho"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("dce")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// openImage decodes the image at --offset in path. The caller closes the
// returned file once it is done with the image.
func openImage(path string, filter ...types.LoadCmd) (*macho.Image, *os.File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	img, err := macho.NewImage(f, macho.ImageConfig{
		Offset:     viper.GetInt64("offset"),
		Size:       viper.GetInt64("size"),
		LoadFilter: filter,
		Logger:     log.WithField("file", filepath.Base(path)),
	})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, f, nil
}
