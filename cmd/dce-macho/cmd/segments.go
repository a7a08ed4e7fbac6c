package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(segmentsCmd)
	segmentsCmd.MarkZshCompPositionalArgumentFile(1)
}

// segmentsCmd represents the segments command
var segmentsCmd = &cobra.Command{
	Use:           "segments <macho>",
	Aliases:       []string{"seg"},
	Short:         "List segments and their sections",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, f, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		for _, seg := range img.Segments() {
			fmt.Printf("%s %s %s\n",
				colorAddr("%#016x-%#016x", seg.VMAddress(), seg.VMAddress()+seg.VMSize()),
				colorName(seg.NameString()),
				humanize.Bytes(seg.FileSize()))
			secs, err := seg.Sections()
			if err != nil {
				log.WithError(err).Warnf("failed to decode sections of %s", seg.NameString())
				continue
			}
			for _, sec := range secs {
				fmt.Printf("\t%s %-18s %s\n",
					colorAddr("%#016x-%#016x", sec.Addr(), sec.Addr()+sec.Size()),
					sec.NameString(),
					humanize.Bytes(sec.Size()))
			}
		}
		return nil
	},
}
