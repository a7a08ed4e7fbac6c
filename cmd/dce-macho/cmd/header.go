package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(headerCmd)
	headerCmd.MarkZshCompPositionalArgumentFile(1)
}

// headerCmd represents the header command
var headerCmd = &cobra.Command{
	Use:           "header <macho>",
	Aliases:       []string{"h"},
	Short:         "Print the mach header",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, f, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		h := img.Header()
		fmt.Printf("%s %s\n", colorName("Magic:"), h.Magic())
		fmt.Printf("%s %s\n", colorName("Width:"), h.Width())
		fmt.Printf("%s %s\n", colorName("Byte order:"), h.ByteOrder())
		fmt.Println(h)
		return nil
	},
}
