// Command evalidator runs the ephemeral rollup validator: an
// accounts-db store, an append-only ledger, a transaction processor
// and bank, the account lifecycle (fetch/subscribe/dump/clone),
// periodic base-chain commits, and the JSON-RPC, pub/sub and gRPC
// geyser transports, all wired from one TOML configuration file.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ephemeral-svm/validator/internal/accountcloner"
	"github.com/ephemeral-svm/validator/internal/accountdumper"
	"github.com/ephemeral-svm/validator/internal/accountfetcher"
	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/accountupdates"
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/commit"
	"github.com/ephemeral-svm/validator/internal/config"
	"github.com/ephemeral-svm/validator/internal/geyser"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle/stub"
	"github.com/ephemeral-svm/validator/internal/magicprogram"
	"github.com/ephemeral-svm/validator/internal/metrics"
	"github.com/ephemeral-svm/validator/internal/pubsub"
	"github.com/ephemeral-svm/validator/internal/rpc"
	"github.com/ephemeral-svm/validator/internal/scheduledcommits"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/txprocessor"
)

var (
	configPath string
	logPath    string
)

func main() {
	root := &cobra.Command{
		Use:   "evalidator",
		Short: "Ephemeral Solana-compatible rollup validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	var flags *pflag.FlagSet = root.Flags()
	flags.StringVarP(&configPath, "config", "c", "evalidator.toml", "path to the TOML configuration file")
	flags.StringVar(&logPath, "log-file", "", "rotate logs to this file instead of stderr")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(path string) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if path == "" {
		core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zap.InfoLevel)
		return zap.New(core, zap.AddCaller())
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), zap.InfoLevel)
	return zap.New(core, zap.AddCaller())
}

func run(ctx context.Context) error {
	log := newLogger(logPath)
	defer log.Sync()

	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return fmt.Errorf("evalidator: load config: %w", err)
	}

	layout, err := config.EnsureLedgerLayout(fs, cfg)
	if err != nil {
		return fmt.Errorf("evalidator: prepare ledger layout: %w", err)
	}
	defer config.ReleaseLedgerLock(fs, layout)

	validatorPub, err := config.EnsureKeypair(fs, layout.ValidatorKeypair)
	if err != nil {
		return fmt.Errorf("evalidator: validator keypair: %w", err)
	}
	faucetPub, err := config.EnsureKeypair(fs, layout.FaucetKeypair)
	if err != nil {
		return fmt.Errorf("evalidator: faucet keypair: %w", err)
	}
	var identity, faucet solanatypes.Pubkey
	copy(identity[:], validatorPub)
	copy(faucet[:], faucetPub)

	reg := metrics.New()

	idx, err := index.OpenMdbxIndex(index.MdbxIndexConfig{
		Path:    layout.IndexPath,
		MapSize: cfg.AccountsDB.IndexMapSize,
	})
	if err != nil {
		return fmt.Errorf("evalidator: open index: %w", err)
	}
	store, err := accountsdb.Open(log, accountsdb.Config{
		MainFilePath: layout.AccountsMainFile,
		IndexPath:    layout.IndexPath,
		BlockSize:    accountsdb.BlockSize(cfg.AccountsDB.BlockSize),
		IndexMapSize: cfg.AccountsDB.IndexMapSize,
		SnapshotDir:  layout.AccountsSnapshot,
		SnapshotFreq: cfg.AccountsDB.SnapshotFrequency,
		MaxSnapshots: cfg.AccountsDB.MaxSnapshots,
	}, idx)
	if err != nil {
		return fmt.Errorf("evalidator: open accounts store: %w", err)
	}
	defer store.Close()
	store.SetMetrics(reg)

	lg, err := ledger.Open(log, ledger.Config{Path: layout.RocksPath, Reset: cfg.Ledger.Reset})
	if err != nil {
		return fmt.Errorf("evalidator: open ledger: %w", err)
	}
	defer lg.Close()

	b := bank.New(log, store, lg, bank.Config{Collector: identity})
	b.SetMetrics(reg)

	proc := txprocessor.NewProcessor(b, noopExecutor{})

	accountsProvider := stub.NewAccountsProvider()
	accountsProvider.SetValidFeePayer(faucet, true)

	program := magicprogram.New(log, store, lg, accountsProvider, identity, b.Slot)

	chain := newBasechainStub(cfg.Accounts.Remote)

	fetcher := accountfetcher.New(log, chain)
	updates := accountupdates.New(log, chain, b.Slot, 0)

	var dataKeyCounter uint64
	nextDataKey := func() uint64 { dataKeyCounter++; return dataKeyCounter }
	dumper := accountdumper.New(log, program, lg, identity, nextDataKey)

	blacklist := accountcloner.StandardBlacklist(identity, faucet, magicprogram.ProgramID, magicprogram.ContextPubkey)
	permissions := accountcloner.PermissionsForMode(lifecycleModeFromString(cfg.Accounts.Lifecycle))
	cloner := accountcloner.New(log, fetcher, updates, dumper, blacklist, permissions, nil)

	committerKey, err := config.LoadPrivateKey(fs, layout.ValidatorKeypair)
	if err != nil {
		return fmt.Errorf("evalidator: load committer key: %w", err)
	}
	committerCfg := commit.Config{
		CommitterKey:     committerKey,
		ComputeUnitPrice: cfg.Accounts.Commit.ComputeUnitPrice,
	}
	committer := commit.New(log, chain, committerCfg)
	commits := scheduledcommits.New(log, program, committer, store, accountsProvider, identity)

	hub := pubsub.New(log)
	hub.Attach(b)
	hub.SetMetrics(reg)
	proc.SetStatusSink(hub.StatusSink())

	geyserSvc := geyser.New(log, hub)
	grpcServer := grpc.NewServer()
	geyser.RegisterGeyserServer(grpcServer, geyserSvc)

	rpcServer := rpc.New(log, b, lg, proc)
	rpcServer.SetCloner(cloner)
	pubsubServer := pubsub.NewServer(log, hub, store, b.StatusCache())

	servers := startServers(ctx, log, cfg, grpcServer, rpcServer, pubsubServer, reg)
	defer servers()

	runLoops(ctx, log, cfg, b, commits, reg)
	return nil
}

func lifecycleModeFromString(s string) accountcloner.LifecycleMode {
	switch s {
	case "replica":
		return accountcloner.Replica
	case "programs-replica":
		return accountcloner.ProgramsReplica
	case "offline":
		return accountcloner.Offline
	default:
		return accountcloner.Ephemeral
	}
}

func startServers(ctx context.Context, log *zap.Logger, cfg *config.Config, grpcServer *grpc.Server, rpcServer *rpc.Server, pubsubServer *pubsub.Server, reg *metrics.Registry) func() {
	var closers []func()

	rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
	rpcHTTP := &http.Server{Addr: rpcAddr, Handler: rpcServer.Router()}
	go func() {
		if err := rpcHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server stopped", zap.Error(err))
		}
	}()
	closers = append(closers, func() { rpcHTTP.Close() })

	wsAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port+1)
	wsHTTP := &http.Server{Addr: wsAddr, Handler: pubsubServer}
	go func() {
		if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("pubsub server stopped", zap.Error(err))
		}
	}()
	closers = append(closers, func() { wsHTTP.Close() })

	geyserAddr := fmt.Sprintf("%s:%d", cfg.Geyser.Addr, cfg.Geyser.Port)
	if lis, err := net.Listen("tcp", geyserAddr); err != nil {
		log.Error("geyser listener failed", zap.Error(err))
	} else {
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("geyser server stopped", zap.Error(err))
			}
		}()
		closers = append(closers, grpcServer.GracefulStop)
	}

	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("0.0.0.0:%d", cfg.Metrics.Port)
		metricsHTTP := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
		go func() {
			if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		closers = append(closers, func() { metricsHTTP.Close() })
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}

func runLoops(ctx context.Context, log *zap.Logger, cfg *config.Config, b *bank.Bank, commits *scheduledcommits.Processor, reg *metrics.Registry) {
	slotTicker := time.NewTicker(time.Duration(cfg.Validator.MillisPerSlot) * time.Millisecond)
	defer slotTicker.Stop()

	commitMillis := cfg.Accounts.Commit.FrequencyMillis
	if commitMillis == 0 {
		commitMillis = 1000
	}
	commitTicker := time.NewTicker(time.Duration(commitMillis) * time.Millisecond)
	defer commitTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("evalidator: shutting down")
			return
		case <-slotTicker.C:
			slot, err := b.AdvanceSlotAndUpdateLedger(time.Now().Unix())
			if err != nil {
				log.Error("advance slot failed", zap.Error(err))
				continue
			}
			reg.SetSlot(uint64(slot))
		case <-commitTicker.C:
			if err := commits.Process(ctx); err != nil {
				log.Error("scheduled commit pass failed", zap.Error(err))
			}
		}
	}
}
