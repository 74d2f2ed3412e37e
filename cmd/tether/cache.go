package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the link cache",
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Load every live link into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		fresh, _ := cmd.Flags().GetBool("fresh")

		a, err := bootstrap(cmd.Context(), bootstrapOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		loaded, err := a.cache.Warm(cmd.Context(), a.links, fresh)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Warmed %s links\n", humanize.Comma(int64(loaded)))
		return nil
	},
}

var cacheColdCmd = &cobra.Command{
	Use:   "cold",
	Short: "Flush every link from the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), bootstrapOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		flushed, err := a.cache.Cold(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Flushed %s links\n", humanize.Comma(int64(flushed)))
		return nil
	},
}

func init() {
	cacheWarmCmd.Flags().Bool("fresh", false, "Flush the link namespace before warming")
	cacheCmd.AddCommand(cacheWarmCmd, cacheColdCmd)
}
