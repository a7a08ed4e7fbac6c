package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(codesignCmd)

	codesignCmd.Flags().BoolP("ent", "e", false, "Print entitlements")
	viper.BindPFlag("codesign.ent", codesignCmd.Flags().Lookup("ent"))
	codesignCmd.MarkZshCompPositionalArgumentFile(1)
}

// codesignCmd represents the codesign command
var codesignCmd = &cobra.Command{
	Use:           "codesign <macho>",
	Aliases:       []string{"sig"},
	Short:         "Print the embedded code signature",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, f, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		cs, err := img.CodeSignature()
		if err != nil {
			return err
		}
		for _, cd := range cs.CodeDirectories {
			fmt.Println(cd.String())
		}
		if len(cs.CMSSignature) > 0 {
			fmt.Printf("%s %d bytes\n", colorName("CMS Signature:"), len(cs.CMSSignature))
		}
		if viper.GetBool("codesign.ent") && len(cs.Entitlements) > 0 {
			fmt.Println(colorName("Entitlements:"))
			fmt.Println(strings.TrimSpace(cs.Entitlements))
		}
		return nil
	},
}
