package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dtp-claims/internal/domain"
)

func newNetworksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Inspect the network settings table",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAIN\tNAME\tREGISTRY\tRPC")
			for _, id := range rt.resolver.ChainIDs() {
				n := rt.resolver.Resolve(id)
				registry := "-"
				if addr, err := n.Registry(); err == nil {
					registry = addr.Hex()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, n.Name, registry, n.RPCURL)
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings of --chain-id",
		Long: `Print the generic settings merged with the chain's own record.
Unknown chains resolve to the generic record alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			if !rt.resolver.Known(rt.chainID) {
				rt.logger.Printf("chain %d has no record of its own, showing generic settings", rt.chainID)
			}
			out, err := yaml.Marshal(rt.network())
			if err != nil {
				return fmt.Errorf("marshal settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	contexts := &cobra.Command{
		Use:   "contexts",
		Short: "List the well-known claim contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(domain.KnownContexts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(list, show, contexts)
	return cmd
}

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Print the accounts claims are signed with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := a.commandContext(cmd.Context(), true)
			defer cancel()

			signers, err := a.signers(ctx, rt)
			if err != nil {
				return err
			}
			for _, s := range signers {
				fmt.Fprintln(cmd.OutOrStdout(), s.Address().Hex())
			}
			return nil
		},
	}
}

func newLatestBlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "getlatestblock",
		Short: "Print the latest block number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := a.commandContext(cmd.Context(), true)
			defer cancel()

			rpc, err := rt.rpc(ctx)
			if err != nil {
				return err
			}
			n, err := rpc.BlockNumber(ctx)
			if err != nil {
				return domain.NewError(domain.KindQuery, "latest block", rt.chainID, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
