// Package cli implements the dtp command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dtp-claims/internal/evm"
)

// Viper keys shared by all commands.
const (
	keyChainID       = "chain-id"
	keyNetworks      = "networks"
	keyRPCURL        = "rpc-url"
	keyWSURL         = "ws-url"
	keyRegistry      = "registry"
	keyPrivateKey    = "private-key"
	keyTimeout       = "timeout"
	keyRateLimit     = "rate-limit"
	keyPostgresDSN   = "postgres-dsn"
	keyClickhouseDSN = "clickhouse-dsn"
	keyVerbose       = "verbose"
)

// dialFunc creates the chain connector used by commands.
type dialFunc func(logger *log.Logger, rateLimit float64) evm.Connector

func dialPool(logger *log.Logger, rateLimit float64) evm.Connector {
	var opts []evm.ClientOption
	if rateLimit > 0 {
		opts = append(opts, evm.WithRateLimit(rateLimit, max(1, int(rateLimit))))
	}
	return evm.NewPool(evm.PoolOptions{ClientOptions: opts, Logger: logger})
}

// app carries state shared by the command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	dial    dialFunc
	logOut  io.Writer
}

// Execute runs the dtp command line.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the dtp command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: viper.New(), dial: dialPool, logOut: os.Stderr})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dtp",
		Short: "Publish and read trust claims on an EVM claims registry",
		Long: `dtp publishes typed trust claims to a DTP claims registry contract and
reads them back from the registry's ClaimPublished events.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (DTP_*)
3. Config file (~/.dtp/config.yaml)
4. Built-in network table`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.dtp/config.yaml)")
	flags.Int64(keyChainID, 1337, "chain id to operate on")
	flags.String(keyNetworks, "", "YAML network settings merged over the built-in table")
	flags.String(keyRPCURL, "", "override the network's RPC URL")
	flags.String(keyWSURL, "", "override the network's websocket URL")
	flags.String(keyRegistry, "", "override the registry contract address")
	flags.String(keyPrivateKey, "", "hex private key to sign with (default: node-managed accounts)")
	flags.Duration(keyTimeout, 2*time.Minute, "overall command timeout")
	flags.Float64(keyRateLimit, 0, "max RPC requests per second (0 = unlimited)")
	flags.String(keyPostgresDSN, "", "PostgreSQL connection string")
	flags.String(keyClickhouseDSN, "", "ClickHouse connection string")
	flags.BoolP(keyVerbose, "v", false, "verbose output")

	for _, key := range []string{
		keyChainID, keyNetworks, keyRPCURL, keyWSURL, keyRegistry, keyPrivateKey,
		keyTimeout, keyRateLimit, keyPostgresDSN, keyClickhouseDSN, keyVerbose,
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newNetworksCmd(a),
		newAccountsCmd(a),
		newLatestBlockCmd(a),
		newCreateTrustCmd(a),
		newCreateDisplayNameCmd(a),
		newCreateClaimsCmd(a),
		newLogsCmd(a),
		newSyncCmd(a),
		newSubmissionsCmd(a),
	)
	return root
}

// initConfig reads in the config file and DTP_* environment variables.
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".dtp"))
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("config")
	}

	a.v.SetEnvPrefix("DTP")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	} else if a.v.GetBool(keyVerbose) {
		fmt.Fprintf(a.logOut, "Using config file: %s\n", a.v.ConfigFileUsed())
	}
	return nil
}

func (a *app) logger() *log.Logger {
	flags := log.LstdFlags
	if a.v.GetBool(keyVerbose) {
		flags |= log.Lshortfile
	}
	return log.New(a.logOut, "[dtp] ", flags)
}

// commandContext bounds ctx by the configured timeout. Long-running
// commands pass bounded=false.
func (a *app) commandContext(ctx context.Context, bounded bool) (context.Context, context.CancelFunc) {
	if !bounded {
		return context.WithCancel(ctx)
	}
	timeout := a.v.GetDuration(keyTimeout)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
