package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-hwc/tagmap"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Inspect signal map documents",
}

var tagsValidateCmd = &cobra.Command{
	Use:   "validate <map.yaml>",
	Short: "Parse and validate a signal map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tagmap.Load(args[0])
		if err != nil {
			return err
		}

		cmd.Printf("%s: %d transports, %d engines, %d signals\n",
			args[0], len(cfg.Transports), len(cfg.Engines), len(cfg.Signals))

		return nil
	},
}

var tagsListCmd = &cobra.Command{
	Use:   "list <map.yaml>",
	Short: "List the signals of a map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tagmap.Load(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tENGINE\tUNIT\tCHANNEL\tMODE")
		for _, sc := range cfg.Signals {
			mode := "deferred"
			if sc.Immediate {
				mode = "immediate"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", sc.Name, sc.Kind, sc.Engine, sc.Unit, sc.Channel, mode)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tagsCmd)
	tagsCmd.AddCommand(tagsValidateCmd)
	tagsCmd.AddCommand(tagsListCmd)
}
