package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dtp-claims/internal/batch"
	"dtp-claims/internal/domain"
	"dtp-claims/internal/publisher"
	"dtp-claims/internal/settings"
	"dtp-claims/internal/signer"
)

// publishFlags are shared by the commands that publish claims.
type publishFlags struct {
	fee            string
	feeToken       string
	baseFee        bool
	claimContext   string
	confirmTimeout time.Duration
	concurrency    int
}

func (f *publishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fee, "fee", "", "fee amount in base units of the native token or --fee-token (default: no fee)")
	cmd.Flags().StringVar(&f.feeToken, "fee-token", "", "pay --fee in this token: a stable coin key or an address")
	cmd.Flags().BoolVar(&f.baseFee, "base-fee", false, "attach the network's base cost in the native token")
	cmd.Flags().StringVar(&f.claimContext, "context", "", "claim context (default: the network's chain context)")
	cmd.Flags().DurationVar(&f.confirmTimeout, "confirm-timeout", 0, "bound each confirmation wait (0 = until --timeout)")
}

// resolveFee picks the fee for net from the flags. Without flags no fee is
// attached. A token fee needs an explicit --fee since amounts are in the
// token's own base units.
func (f *publishFlags) resolveFee(net settings.Network) (domain.Fee, error) {
	switch {
	case f.baseFee && (f.fee != "" || f.feeToken != ""):
		return domain.Fee{}, errors.New("--base-fee cannot be combined with --fee or --fee-token")
	case f.baseFee:
		return net.DefaultFee(), nil
	case f.feeToken != "" && f.fee == "":
		return domain.Fee{}, errors.New("--fee-token requires --fee")
	case f.fee == "":
		return domain.NoFee(), nil
	}

	amount, err := domain.ParseValue(f.fee)
	if err != nil {
		return domain.Fee{}, fmt.Errorf("--fee: %w", err)
	}
	if amount.Sign() < 0 {
		return domain.Fee{}, errors.New("--fee: must not be negative")
	}
	if f.feeToken == "" {
		return domain.NativeFee(amount), nil
	}

	if asset, ok := net.StableCoins[strings.ToLower(f.feeToken)]; ok {
		if asset.Address == nil {
			return domain.Fee{}, fmt.Errorf("--fee-token: %s has no address on chain %d", f.feeToken, net.ChainID)
		}
		return domain.TokenFee(*asset.Address, amount), nil
	}
	addr, err := domain.ParseAddress(f.feeToken)
	if err != nil {
		return domain.Fee{}, fmt.Errorf("--fee-token: %w", err)
	}
	return domain.TokenFee(addr, amount), nil
}

// contextOr returns --context, or def when it is unset.
func (f *publishFlags) contextOr(def string) string {
	if f.claimContext != "" {
		return f.claimContext
	}
	return def
}

// publisher builds a client for rt, journaling to Postgres when configured.
func (a *app) publisher(ctx context.Context, rt *runtime, f *publishFlags) (*publisher.Client, string, error) {
	opts := publisher.Options{
		Logger:         rt.logger,
		RunID:          uuid.NewString(),
		ConfirmTimeout: f.confirmTimeout,
		Concurrency:    f.concurrency,
	}

	journal, err := a.journal(ctx, rt)
	if err != nil {
		return nil, "", err
	}
	opts.Journal = journal

	return publisher.NewClient(rt.resolver, rt.conn, opts), opts.RunID, nil
}

func newCreateTrustCmd(a *app) *cobra.Command {
	var (
		subject string
		value   string
		comment string
		link    string
		pf      publishFlags
	)

	cmd := &cobra.Command{
		Use:   "create-trust",
		Short: "Publish a Trust1 claim",
		Long: `Publish a Trust1 claim from the first signer about --subject.
The subject defaults to the second node-managed account.`,
		Example: `  dtp create-trust
  dtp create-trust --subject 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --value=-1`,
		Args: cobra.NoArgs,
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

			var subjectAddr common.Address
			switch {
			case subject != "":
				if subjectAddr, err = domain.ParseAddress(subject); err != nil {
					return fmt.Errorf("--subject: %w", err)
				}
			case len(signers) > 1:
				subjectAddr = signers[1].Address()
			default:
				return errors.New("--subject is required with a single signer")
			}

			net := rt.network()
			claim := domain.Claim{
				TypeID:  domain.TypeTrust1,
				Issuer:  domain.SignerIssuer(),
				Subject: subjectAddr,
				Value:   value,
				Scope:   domain.ScopeContract,
				Context: pf.contextOr(net.Context),
				Comment: comment,
				Link:    link,
			}
			return a.publishOne(ctx, cmd, rt, &pf, signers[0], claim)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "address of the subject")
	cmd.Flags().StringVar(&value, "value", "1", "trust value")
	cmd.Flags().StringVar(&comment, "comment", "This is a test trust claim", "claim comment")
	cmd.Flags().StringVar(&link, "link", "", "claim link")
	pf.register(cmd)
	return cmd
}

func newCreateDisplayNameCmd(a *app) *cobra.Command {
	var (
		value   string
		comment string
		pf      publishFlags
	)

	cmd := &cobra.Command{
		Use:   "create-displayname",
		Short: "Publish a DisplayName claim about the first signer",
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

			claim := domain.Claim{
				TypeID:  domain.TypeDisplayName,
				Issuer:  domain.SignerIssuer(),
				Subject: signers[0].Address(),
				Value:   value,
				Scope:   domain.ScopeEntity,
				Context: pf.claimContext,
				Comment: comment,
			}
			return a.publishOne(ctx, cmd, rt, &pf, signers[0], claim)
		},
	}

	cmd.Flags().StringVar(&value, "value", "John Doe", "display name")
	cmd.Flags().StringVar(&comment, "comment", "This is a test claim for displayname", "claim comment")
	pf.register(cmd)
	return cmd
}

func (a *app) publishOne(ctx context.Context, cmd *cobra.Command, rt *runtime, pf *publishFlags, s signer.Signer, claim domain.Claim) error {
	if err := domain.CheckChainContext(claim.Context, rt.chainID); err != nil {
		return fmt.Errorf("--context: %w", err)
	}
	fee, err := pf.resolveFee(rt.network())
	if err != nil {
		return err
	}
	client, _, err := a.publisher(ctx, rt, pf)
	if err != nil {
		return err
	}

	rt.logger.Printf("publishing %s claim about %s", claim.TypeID, claim.Subject.Hex())
	receipt, err := client.Publish(ctx, rt.chainID, s, claim, fee)
	if err != nil {
		return err
	}
	printReceipt(cmd, receipt)
	if !receipt.Succeeded() {
		return fmt.Errorf("transaction %s reverted", receipt.TxHash.Hex())
	}
	return nil
}

func newCreateClaimsCmd(a *app) *cobra.Command {
	var (
		file string
		pf   publishFlags
	)

	cmd := &cobra.Command{
		Use:   "create-claims",
		Short: "Publish claims from a bulk-import file, one transaction per issuer",
		Long: `Publish every claim in a bulk-import file. The file holds
{"claims": [[issuerIndex, subject, typeId, value], ...]} where issuerIndex
selects a signer and subject is a signer index or an address. Claims are
grouped by issuer; issuers publish concurrently.`,
		Example: `  dtp create-claims --file trustdata.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := batch.LoadFile(file)
			if err != nil {
				return err
			}

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

			net := rt.network()
			builder := batch.Builder{
				Signers: signer.Addresses(signers),
				Context: pf.contextOr(net.Context),
				ChainID: net.ChainID,
			}
			batches, err := builder.Build(raw)
			if err != nil {
				return err
			}

			fee, err := pf.resolveFee(net)
			if err != nil {
				return err
			}
			client, runID, err := a.publisher(ctx, rt, &pf)
			if err != nil {
				return err
			}
			rt.logger.Printf("run %s: publishing %d claims in %d batches", runID, len(raw), len(batches))
			fmt.Fprintf(cmd.OutOrStdout(), "Run: %s\n", runID)
			results, err := client.PublishAll(ctx, rt.chainID, batches, signers, fee)
			for _, r := range results {
				if r.Receipt != nil {
					printReceipt(cmd, r.Receipt)
				}
			}
			if err != nil {
				return err
			}
			for _, r := range results {
				if !r.Receipt.Succeeded() {
					return fmt.Errorf("transaction %s reverted", r.Receipt.TxHash.Hex())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "trustdata.json", "bulk-import claims file")
	cmd.Flags().IntVar(&pf.concurrency, "concurrency", 0, "issuers published at once (default 4)")
	pf.register(cmd)
	return cmd
}

func printReceipt(cmd *cobra.Command, r *domain.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "Transaction receipt: %s (block %d, %d claim(s), %s)\n",
		r.TxHash.Hex(), r.BlockNumber, r.Claims, r.Status)
}
