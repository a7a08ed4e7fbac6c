package cmd

import (
	"fmt"

	"github.com/appsworld/dce-macho"
	"github.com/appsworld/dce-macho/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(loadsCmd)

	loadsCmd.Flags().StringSliceP("filter", "f", nil, "Only decode these load commands (e.g. LC_UUID,rpath,0x1b)")
	viper.BindPFlag("loads.filter", loadsCmd.Flags().Lookup("filter"))
	loadsCmd.MarkZshCompPositionalArgumentFile(1)
}

// loadsCmd represents the loads command
var loadsCmd = &cobra.Command{
	Use:           "loads <macho>",
	Aliases:       []string{"l"},
	Short:         "List the load commands",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter []types.LoadCmd
		for _, name := range viper.GetStringSlice("loads.filter") {
			lc, err := types.ParseLoadCmd(name)
			if err != nil {
				return err
			}
			filter = append(filter, lc)
		}

		img, f, err := openImage(args[0], filter...)
		if err != nil {
			return err
		}
		defer f.Close()

		for i, l := range img.Loads() {
			if bad, ok := l.(*macho.MalformedLoad); ok {
				fmt.Printf("%03d: %-28s %s\n", i, colorBad(bad.Command()), colorBad(bad))
				continue
			}
			fmt.Printf("%03d: %-28s %s\n", i, colorCmd(l.Command()), l)
		}
		if n := len(img.Malformed()); n > 0 {
			return fmt.Errorf("%d malformed load command(s)", n)
		}
		return nil
	},
}
