package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/appsworld/dce-macho/pkg/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringArrayP("region", "r", nil, "Image region as name:offset[:size] (repeatable)")
	batchCmd.Flags().IntP("workers", "w", 0, "Images decoded at once (default $DCE_WORKERS or 4)")
	batchCmd.Flags().Bool("fail-fast", false, "Stop at the first image that fails to decode")
	batchCmd.Flags().Int("cache-size", 0, "Decoded images kept for reuse (default $DCE_CACHE_SIZE or 128)")
	batchCmd.Flags().BoolP("absolute", "a", false, "Load command file offsets are relative to the file, as in a shared cache")
	viper.BindPFlag("batch.region", batchCmd.Flags().Lookup("region"))
	batchCmd.MarkFlagRequired("region")
	batchCmd.MarkZshCompPositionalArgumentFile(1)
}

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:           "batch <file>",
	Short:         "Decode many images embedded in one file",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := pipeline.ConfigFromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers, _ = cmd.Flags().GetInt("workers")
		}
		if cmd.Flags().Changed("fail-fast") {
			cfg.FailFast, _ = cmd.Flags().GetBool("fail-fast")
		}
		if cmd.Flags().Changed("cache-size") {
			cfg.CacheSize, _ = cmd.Flags().GetInt("cache-size")
		}
		if cmd.Flags().Changed("absolute") {
			cfg.AbsoluteOffsets, _ = cmd.Flags().GetBool("absolute")
		}

		var regions []pipeline.Region
		for _, arg := range viper.GetStringSlice("batch.region") {
			r, err := pipeline.ParseRegion(arg)
			if err != nil {
				return err
			}
			regions = append(regions, r)
		}

		f, err := os.Open(filepath.Clean(args[0]))
		if err != nil {
			return err
		}
		defer f.Close()

		p, err := pipeline.New(f, cfg, pipeline.WithLogger(log.WithField("file", filepath.Base(args[0]))))
		if err != nil {
			return err
		}
		results, err := p.Decode(context.Background(), regions)
		for _, r := range results {
			switch {
			case r.Err != nil:
				fmt.Printf("%s %s: %v\n", colorBad("✗"), colorName(r.Region), r.Err)
			case r.Image.UUID() != nil:
				fmt.Printf("%s %s %s\n", colorOK("✓"), colorName(r.Region), r.Image.UUID())
			default:
				fmt.Printf("%s %s\n", colorOK("✓"), colorName(r.Region))
			}
		}
		log.Info(pipeline.Summary(results))
		return err
	},
}
