package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/idhash"
	"dtp-claims/internal/logquery"
	"dtp-claims/internal/storage"
	"dtp-claims/internal/storage/clickhouse"
	pgstore "dtp-claims/internal/storage/postgres"
)

// Event sources for the logs command.
const (
	sourceChain      = "chain"
	sourcePostgres   = "postgres"
	sourceClickhouse = "clickhouse"
)

type logsOptions struct {
	start   uint64
	end     uint64
	subject string
	issuer  string
	source  string
	asJSON  bool
}

func newLogsCmd(a *app) *cobra.Command {
	var o logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print published claims in ledger order",
		Long: `Print the registry's ClaimPublished events between --start and --end.
An --end past the latest block stops at the latest block. Events are read
from the chain, or from an indexed store filled by "dtp sync".`,
		Example: `  dtp logs
  dtp logs --start 100 --end 200 --json
  dtp logs --source postgres --subject 0x70997970C51812dc3A010C7d01b50e0d17dc79C8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := a.commandContext(cmd.Context(), true)
			defer cancel()

			filter, err := o.filter()
			if err != nil {
				return err
			}

			var events []domain.PublishedClaimEvent
			switch o.source {
			case sourceChain:
				events, err = a.chainEvents(ctx, rt, o)
			case sourcePostgres, sourceClickhouse:
				events, err = a.storedEvents(ctx, rt, o)
			default:
				return fmt.Errorf("--source: unknown source %q (chain, postgres, clickhouse)", o.source)
			}
			if err != nil {
				return err
			}

			events = filter(events)
			if o.asJSON {
				return writeEventsJSON(cmd.OutOrStdout(), events)
			}
			return writeEventsTable(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().Uint64Var(&o.start, "start", 0, "first block")
	cmd.Flags().Uint64Var(&o.end, "end", 999999999, "last block")
	cmd.Flags().StringVar(&o.subject, "subject", "", "only claims about this address")
	cmd.Flags().StringVar(&o.issuer, "issuer", "", "only claims issued by this address")
	cmd.Flags().StringVar(&o.source, "source", sourceChain, "read from chain, postgres or clickhouse")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print one JSON object per line")
	return cmd
}

// filter returns a function keeping events that match the subject/issuer
// flags and the block range.
func (o logsOptions) filter() (func([]domain.PublishedClaimEvent) []domain.PublishedClaimEvent, error) {
	var subject, issuer *common.Address
	if o.subject != "" {
		addr, err := domain.ParseAddress(o.subject)
		if err != nil {
			return nil, fmt.Errorf("--subject: %w", err)
		}
		subject = &addr
	}
	if o.issuer != "" {
		addr, err := domain.ParseAddress(o.issuer)
		if err != nil {
			return nil, fmt.Errorf("--issuer: %w", err)
		}
		issuer = &addr
	}

	return func(events []domain.PublishedClaimEvent) []domain.PublishedClaimEvent {
		out := events[:0]
		for _, e := range events {
			if e.BlockNumber < o.start || e.BlockNumber > o.end {
				continue
			}
			if subject != nil && e.Claim.Subject != *subject {
				continue
			}
			if issuer != nil && e.Claim.Issuer.Wire() != *issuer {
				continue
			}
			out = append(out, e)
		}
		return out
	}, nil
}

func (a *app) chainEvents(ctx context.Context, rt *runtime, o logsOptions) ([]domain.PublishedClaimEvent, error) {
	rpc, err := rt.rpc(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := rpc.BlockNumber(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindQuery, "logs", rt.chainID, err)
	}

	end := min(o.end, latest)
	client := logquery.NewClient(rt.resolver, rt.conn, logquery.Options{Logger: rt.logger})
	return client.Query(ctx, rt.chainID, logquery.Range{From: o.start, To: &end})
}

func (a *app) storedEvents(ctx context.Context, rt *runtime, o logsOptions) ([]domain.PublishedClaimEvent, error) {
	var store storage.ClaimEventStore
	switch o.source {
	case sourcePostgres:
		pool, err := a.postgres(ctx, rt)
		if err != nil {
			return nil, err
		}
		if pool == nil {
			return nil, fmt.Errorf("--source postgres needs --%s", keyPostgresDSN)
		}
		store = pgstore.NewClaimEventStore(pool)
	default:
		conn, err := a.clickhouse(ctx, rt)
		if err != nil {
			return nil, err
		}
		if conn == nil {
			return nil, fmt.Errorf("--source clickhouse needs --%s", keyClickhouseDSN)
		}
		store = clickhouse.NewClaimEventStore(conn)
	}

	var (
		rows []*domain.PublishedClaimEvent
		err  error
	)
	switch {
	case o.subject != "":
		rows, err = store.GetBySubject(ctx, rt.chainID, common.HexToAddress(o.subject))
	case o.issuer != "":
		rows, err = store.GetByIssuer(ctx, rt.chainID, common.HexToAddress(o.issuer))
	default:
		rows, err = store.GetByBlockRange(ctx, rt.chainID, o.start, o.end)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.source, err)
	}

	events := make([]domain.PublishedClaimEvent, len(rows))
	for i, e := range rows {
		events[i] = *e
	}
	return events, nil
}

func writeEventsTable(out io.Writer, events []domain.PublishedClaimEvent) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tTX\tLOG\tTYPE\tISSUER\tSUBJECT\tVALUE\tSCOPE\tCONTEXT\tCLAIM")
	for _, e := range events {
		c := e.Claim
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.BlockNumber, e.TxHash.Hex(), e.LogIndex, c.TypeID, c.Issuer, c.Subject.Hex(),
			c.Value, c.Scope, c.Context, idhash.ComputeClaimID(c))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d event(s)\n", len(events))
	return err
}

// eventJSON is the --json line format.
type eventJSON struct {
	EventID     string `json:"eventId"`
	ClaimID     string `json:"claimId"`
	ChainID     int64  `json:"chainId"`
	Registry    string `json:"registry"`
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	TxHash      string `json:"txHash"`
	TxIndex     uint   `json:"txIndex"`
	LogIndex    uint   `json:"logIndex"`
	TypeID      string `json:"typeId"`
	Issuer      string `json:"issuer"`
	Subject     string `json:"subject"`
	Value       string `json:"value"`
	Scope       string `json:"scope"`
	Context     string `json:"context"`
	Comment     string `json:"comment,omitempty"`
	Link        string `json:"link,omitempty"`
	Activate    uint64 `json:"activate"`
	Expire      uint64 `json:"expire"`
}

func writeEventsJSON(out io.Writer, events []domain.PublishedClaimEvent) error {
	enc := json.NewEncoder(out)
	for _, e := range events {
		c := e.Claim
		err := enc.Encode(eventJSON{
			EventID:     idhash.ComputeEventID(e.ChainID, e.Provenance),
			ClaimID:     idhash.ComputeClaimID(c),
			ChainID:     e.ChainID,
			Registry:    e.Registry.Hex(),
			BlockNumber: e.BlockNumber,
			BlockHash:   e.BlockHash.Hex(),
			TxHash:      e.TxHash.Hex(),
			TxIndex:     e.TxIndex,
			LogIndex:    e.LogIndex,
			TypeID:      string(c.TypeID),
			Issuer:      c.Issuer.Wire().Hex(),
			Subject:     c.Subject.Hex(),
			Value:       c.Value,
			Scope:       string(c.Scope),
			Context:     c.Context,
			Comment:     c.Comment,
			Link:        c.Link,
			Activate:    c.Activate,
			Expire:      c.Expire,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
