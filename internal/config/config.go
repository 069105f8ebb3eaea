// Package config decodes the validator's TOML configuration (spec §6
// "External Interfaces: Configuration") and prepares the on-disk
// ledger layout it describes. Filesystem access goes through
// afero.Fs so path and keypair logic is unit-testable without a real
// disk, matching the teacher's preference for explicit, narrow
// abstractions over a generic framework.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// AccountsConfig is the "accounts" TOML section.
type AccountsConfig struct {
	Remote          string   `toml:"remote"`
	Lifecycle       string   `toml:"lifecycle"`
	AllowedPrograms []string `toml:"allowed_programs"`
	Commit          CommitConfig `toml:"commit"`
	Payer           PayerConfig  `toml:"payer"`
}

type CommitConfig struct {
	FrequencyMillis   uint64 `toml:"frequency_millis"`
	ComputeUnitPrice  uint64 `toml:"compute_unit_price"`
}

type PayerConfig struct {
	InitLamports uint64  `toml:"init_lamports"`
	InitSol      float64 `toml:"init_sol"`
}

type RPCConfig struct {
	Addr             string `toml:"addr"`
	Port             int    `toml:"port"`
	MaxWSConnections int    `toml:"max_ws_connections"`
}

type GeyserConfig struct {
	Addr string `toml:"addr"`
	Port int    `toml:"port"`
}

type ValidatorConfig struct {
	MillisPerSlot uint64 `toml:"millis_per_slot"`
}

type LedgerConfig struct {
	Path  string `toml:"path"`
	Reset bool   `toml:"reset"`
}

type MetricsConfig struct {
	Enabled                      bool `toml:"enabled"`
	Port                         int  `toml:"port"`
	SystemMetricsTickIntervalSecs int  `toml:"system_metrics_tick_interval_secs"`
}

type AccountsDBConfig struct {
	DBSize             int64  `toml:"db_size"`
	BlockSize          int    `toml:"block_size"`
	IndexMapSize       int64  `toml:"index_map_size"`
	MaxSnapshots       int    `toml:"max_snapshots"`
	SnapshotFrequency  uint64 `toml:"snapshot_frequency"`
}

type ProgramConfig struct {
	ID   string `toml:"id"`
	Path string `toml:"path"`
}

// Config is the full decoded TOML document; every field is optional,
// defaults are applied by Default() before Load overlays the file.
type Config struct {
	Accounts   AccountsConfig   `toml:"accounts"`
	RPC        RPCConfig        `toml:"rpc"`
	Geyser     GeyserConfig     `toml:"geyser_grpc"`
	Validator  ValidatorConfig  `toml:"validator"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Metrics    MetricsConfig    `toml:"metrics"`
	AccountsDB AccountsDBConfig `toml:"accounts-db"`
	Programs   []ProgramConfig  `toml:"program"`
}

// Default returns the configuration used when no file and no
// environment overrides are present.
func Default() *Config {
	return &Config{
		Accounts: AccountsConfig{
			Remote:    "devnet",
			Lifecycle: "ephemeral",
		},
		RPC: RPCConfig{
			Addr:             "0.0.0.0",
			Port:             8899,
			MaxWSConnections: 64,
		},
		Geyser: GeyserConfig{
			Addr: "0.0.0.0",
			Port: 10000,
		},
		Validator: ValidatorConfig{
			MillisPerSlot: 400,
		},
		Ledger: LedgerConfig{
			Path: "ledger",
		},
		Metrics: MetricsConfig{
			Enabled:                       true,
			Port:                          9090,
			SystemMetricsTickIntervalSecs: 30,
		},
		AccountsDB: AccountsDBConfig{
			DBSize:            1 << 34,
			BlockSize:         256,
			IndexMapSize:      1 << 30,
			MaxSnapshots:      4,
			SnapshotFrequency: 100,
		},
	}
}

// Load reads path (if present) through fs, decodes it over Default(),
// then applies environment-variable overrides.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if exists {
			data, err := afero.ReadFile(fs, path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides walks a fixed set of EVALIDATOR_-prefixed
// variables, each naming one TOML key from spec §6's configuration
// table, the same explicit-over-generic style erigon's cmd/ flag
// wiring uses rather than a reflection-based env-binding library.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("EVALIDATOR_ACCOUNTS_REMOTE"); ok {
		cfg.Accounts.Remote = v
	}
	if v, ok := os.LookupEnv("EVALIDATOR_ACCOUNTS_LIFECYCLE"); ok {
		cfg.Accounts.Lifecycle = v
	}
	if v, ok := os.LookupEnv("EVALIDATOR_RPC_ADDR"); ok {
		cfg.RPC.Addr = v
	}
	if v, ok := os.LookupEnv("EVALIDATOR_RPC_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPC.Port = n
		}
	}
	if v, ok := os.LookupEnv("EVALIDATOR_GEYSER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Geyser.Port = n
		}
	}
	if v, ok := os.LookupEnv("EVALIDATOR_VALIDATOR_MILLIS_PER_SLOT"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Validator.MillisPerSlot = n
		}
	}
	if v, ok := os.LookupEnv("EVALIDATOR_LEDGER_PATH"); ok {
		cfg.Ledger.Path = v
	}
	if v, ok := os.LookupEnv("EVALIDATOR_LEDGER_RESET"); ok {
		cfg.Ledger.Reset = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("EVALIDATOR_METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := os.LookupEnv("EVALIDATOR_METRICS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
}

// ErrLedgerLocked is returned when ledger.lock already exists, the
// exclusive-ownership signal spec §6 describes.
var ErrLedgerLocked = errors.New("config: ledger is locked by another process")

// Layout is the set of paths EnsureLedgerLayout resolves under
// cfg.Ledger.Path (spec §6 "Persisted state layout").
type Layout struct {
	Root              string
	AccountsMainFile  string
	AccountsSnapshot  string
	IndexPath         string
	RocksPath         string
	LockFile          string
	FaucetKeypair     string
	ValidatorKeypair  string
}

func (c *Config) Layout() Layout {
	root := c.Ledger.Path
	return Layout{
		Root:             root,
		AccountsMainFile: filepath.Join(root, "accounts", "run", "main.data"),
		AccountsSnapshot: filepath.Join(root, "accounts", "snapshot"),
		IndexPath:        filepath.Join(root, "accounts", "run", "index.mdbx"),
		RocksPath:        filepath.Join(root, "rocksdb"),
		LockFile:         filepath.Join(root, "ledger.lock"),
		FaucetKeypair:    filepath.Join(root, "faucet-keypair.json"),
		ValidatorKeypair: filepath.Join(root, "validator-keypair.json"),
	}
}

// EnsureLedgerLayout creates the directory tree Layout names, wipes it
// first if cfg.Ledger.Reset is set, and takes ledger.lock exclusively.
// It returns ErrLedgerLocked if the lock file is already present.
func EnsureLedgerLayout(fs afero.Fs, cfg *Config) (Layout, error) {
	layout := cfg.Layout()

	if cfg.Ledger.Reset {
		if err := fs.RemoveAll(layout.Root); err != nil {
			return layout, fmt.Errorf("config: reset ledger: %w", err)
		}
	}

	for _, dir := range []string{
		filepath.Dir(layout.AccountsMainFile),
		layout.AccountsSnapshot,
		layout.RocksPath,
	} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return layout, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	locked, err := afero.Exists(fs, layout.LockFile)
	if err != nil {
		return layout, fmt.Errorf("config: stat lock file: %w", err)
	}
	if locked {
		return layout, ErrLedgerLocked
	}
	if err := afero.WriteFile(fs, layout.LockFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return layout, fmt.Errorf("config: write lock file: %w", err)
	}

	return layout, nil
}

// ReleaseLedgerLock removes the lock file written by EnsureLedgerLayout,
// called on clean shutdown.
func ReleaseLedgerLock(fs afero.Fs, layout Layout) error {
	return fs.Remove(layout.LockFile)
}

// keypairFile is the Solana CLI keypair format: a JSON array of the
// 64-byte ed25519 secret key.
type keypairFile []byte

// EnsureKeypair loads the ed25519 keypair at path, generating and
// persisting a new one if absent (spec §6: "created on first run if
// absent").
func EnsureKeypair(fs afero.Fs, path string) (ed25519.PublicKey, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: stat keypair %s: %w", path, err)
	}
	if exists {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("config: read keypair %s: %w", path, err)
		}
		var raw keypairFile
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parse keypair %s: %w", path, err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("config: keypair %s has wrong length %d", path, len(raw))
		}
		return ed25519.PrivateKey(raw).Public().(ed25519.PublicKey), nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: generate keypair: %w", err)
	}
	encoded, err := json.Marshal(keypairFile(priv))
	if err != nil {
		return nil, fmt.Errorf("config: encode keypair: %w", err)
	}
	if err := afero.WriteFile(fs, path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("config: write keypair %s: %w", path, err)
	}
	return pub, nil
}

// LoadPrivateKey reads the ed25519 private key EnsureKeypair persisted
// at path, for callers (the commit engine's signing identity) that need
// the full keypair rather than just the public half.
func LoadPrivateKey(fs afero.Fs, path string) (ed25519.PrivateKey, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read keypair %s: %w", path, err)
	}
	var raw keypairFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse keypair %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("config: keypair %s has wrong length %d", path, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
