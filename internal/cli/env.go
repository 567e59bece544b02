package cli

import (
	"context"
	"fmt"
	"io"
	"log"

	"dtp-claims/internal/evm"
	"dtp-claims/internal/settings"
	"dtp-claims/internal/signer"
	"dtp-claims/internal/storage"
	"dtp-claims/internal/storage/clickhouse"
	"dtp-claims/internal/storage/migrations"
	pgstore "dtp-claims/internal/storage/postgres"
)

// runtime is the resolved environment of one command invocation.
type runtime struct {
	logger   *log.Logger
	chainID  int64
	resolver *settings.Resolver
	conn     evm.Connector

	closers []func()
}

func (a *app) runtime() (*runtime, error) {
	chainID := a.v.GetInt64(keyChainID)
	if chainID <= 0 {
		return nil, fmt.Errorf("--%s must be positive, got %d", keyChainID, chainID)
	}

	table, err := a.settingsTable(chainID)
	if err != nil {
		return nil, err
	}

	logger := a.logger()
	rt := &runtime{
		logger:   logger,
		chainID:  chainID,
		resolver: settings.NewResolver(table),
		conn:     a.dial(logger, a.v.GetFloat64(keyRateLimit)),
	}
	if c, ok := rt.conn.(io.Closer); ok {
		rt.closers = append(rt.closers, func() { _ = c.Close() })
	}
	return rt, nil
}

// settingsTable layers the networks file and the endpoint flags over the built-in table.
func (a *app) settingsTable(chainID int64) (settings.Table, error) {
	table, err := settings.LoadFile(a.v.GetString(keyNetworks))
	if err != nil {
		return settings.Table{}, err
	}

	var (
		override settings.Layer
		set      bool
	)
	if s := a.v.GetString(keyRPCURL); s != "" {
		override.RPCURL, set = &s, true
	}
	if s := a.v.GetString(keyWSURL); s != "" {
		override.WSURL, set = &s, true
	}
	if s := a.v.GetString(keyRegistry); s != "" {
		override.RegistryAddress, set = &s, true
	}
	if !set {
		return table, nil
	}

	table = settings.MergeTables(table, settings.Table{Networks: map[int64]settings.Layer{chainID: override}})
	if err := table.Validate(); err != nil {
		return settings.Table{}, err
	}
	return table, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (rt *runtime) network() settings.Network {
	return rt.resolver.Resolve(rt.chainID)
}

func (rt *runtime) rpc(ctx context.Context) (evm.RPCClient, error) {
	return rt.conn.RPC(ctx, rt.network())
}

// signers returns the key signer when a private key is configured,
// otherwise one node signer per node-managed account.
func (a *app) signers(ctx context.Context, rt *runtime) ([]signer.Signer, error) {
	if key := a.v.GetString(keyPrivateKey); key != "" {
		s, err := signer.NewKeySigner(key, rt.chainID)
		if err != nil {
			return nil, err
		}
		return []signer.Signer{s}, nil
	}

	rpc, err := rt.rpc(ctx)
	if err != nil {
		return nil, err
	}
	signers, err := signer.FromAccounts(ctx, rpc)
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("node manages no accounts; pass --%s", keyPrivateKey)
	}
	return signers, nil
}

// postgres opens the configured database and brings its schema up to date.
// Returns nil when no DSN is configured.
func (a *app) postgres(ctx context.Context, rt *runtime) (*pgstore.Pool, error) {
	dsn := a.v.GetString(keyPostgresDSN)
	if dsn == "" {
		return nil, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, rt.logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)
	return pool, nil
}

// clickhouse opens the configured database after applying migrations.
// Returns nil when no DSN is configured.
func (a *app) clickhouse(ctx context.Context, rt *runtime) (*clickhouse.Conn, error) {
	dsn := a.v.GetString(keyClickhouseDSN)
	if dsn == "" {
		return nil, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = conn.Close() })
	return conn, nil
}

// journal returns the Postgres submission journal, or nil without a DSN.
func (a *app) journal(ctx context.Context, rt *runtime) (storage.SubmissionStore, error) {
	pool, err := a.postgres(ctx, rt)
	if err != nil || pool == nil {
		return nil, err
	}
	return pgstore.NewSubmissionStore(pool), nil
}
