package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swarmpoll"
)

func newSwarmCmd(opts *globalOpts) *cobra.Command {
	var (
		refresh bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "swarm <public-key>",
		Short: "Show the swarm currently serving a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(opts.cfg, nil)
			if err != nil {
				return errors.Trace(err)
			}
			defer b.store.Close()

			pk := args[0]
			if refresh {
				b.swarms.Invalidate(pk)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			s, gen, err := b.swarms.Lookup(ctx, pk)
			if err != nil {
				return errors.Trace(err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tADDRESS\tED25519\n")
			for _, n := range swarmpoll.SortedNodes(s) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", n.ID(), n, n.ED25519Key)
			}
			if err := w.Flush(); err != nil {
				return errors.Trace(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes, generation %d\n", s.Cardinality(), gen)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the stored swarm and ask the seed nodes")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
