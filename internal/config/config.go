// Package config implements the engine's startup configuration: spec.md
// §6's option table. Grounded on the teacher's configParams/loadConfig/
// preflightChecks trio in main.go — a go-flags struct for the CLI
// surface, an optional BurntSushi/toml file overlay, and a validation
// pass that fixes defaults and rejects bad values with the literal
// messages the host surfaces over `setconfig` (-32602).
package config

import (
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jessevdk/go-flags"

	"github.com/daywalker90/sling/internal/slingerr"
)

// Config mirrors spec.md §6's option table. Durations are stored in
// their natural unit (seconds/minutes as the option name says) and
// converted by callers.
type Config struct {
	ConfigFile string `short:"f" long:"config" description:"path to sling's TOML config file"`
	DataDir    string `long:"data-dir" description:"directory sling persists liquidity.json, jobs.json and stats/ under" toml:"data_dir"`

	Connect          string `short:"c" long:"connect" description:"connect to lnd using host:port" toml:"connect"`
	TLSCert          string `short:"t" long:"tlscert" description:"path to tls.cert to connect" toml:"tlscert"`
	MacaroonDir      string `long:"macaroon-dir" description:"path to the macaroon directory" toml:"macaroon_dir"`
	MacaroonFilename string `long:"macaroon-filename" description:"macaroon filename" toml:"macaroon_filename"`
	Network          string `short:"n" long:"network" description:"bitcoin network to use" toml:"network"`

	RPCListen string `long:"sling-rpc-listen" description:"address the control-RPC surface listens on" toml:"sling-rpc-listen"`

	RefreshPeersInterval    int `long:"sling-refresh-peers-interval" description:"seconds between refreshes of our own channel list" toml:"sling-refresh-peers-interval"`
	RefreshAliasmapInterval int `long:"sling-refresh-aliasmap-interval" description:"seconds between refreshes of the node alias map" toml:"sling-refresh-aliasmap-interval"`
	RefreshGraphInterval    int `long:"sling-refresh-graph-interval" description:"seconds between refreshes of the public channel graph" toml:"sling-refresh-graph-interval"`
	ResetLiquidityInterval  int `long:"sling-reset-liquidity-interval" description:"minutes before a liquidity belief decays back to [0, capacity]" toml:"sling-reset-liquidity-interval"`

	DepleteUpToPercent float64 `long:"sling-depleteuptopercent" description:"default depletion gate as a fraction of channel capacity" toml:"sling-depleteuptopercent"`
	DepleteUpToAmount  int64   `long:"sling-depleteuptoamount" description:"default depletion gate in msat" toml:"sling-depleteuptoamount"`
	MaxHops            int     `long:"sling-maxhops" description:"default maximum route hop count" toml:"sling-maxhops"`
	CandidatesMinAge   int     `long:"sling-candidates-min-age" description:"minimum blocks since a candidate channel's announcement" toml:"sling-candidates-min-age"`
	ParallelJobs       int     `long:"sling-paralleljobs" description:"default number of parallel workers per job" toml:"sling-paralleljobs"`

	TimeoutPay    int `long:"sling-timeoutpay" description:"seconds to await a payment's terminal outcome" toml:"sling-timeoutpay"`
	MaxHtlcCount  int `long:"sling-max-htlc-count" description:"max concurrent in-flight HTLCs per local channel" toml:"sling-max-htlc-count"`

	StatsDeleteFailuresAge   int64 `long:"sling-stats-delete-failures-age" description:"seconds after which a failure record is pruned, 0 disables" toml:"sling-stats-delete-failures-age"`
	StatsDeleteSuccessesAge  int64 `long:"sling-stats-delete-successes-age" description:"seconds after which a success record is pruned, 0 disables" toml:"sling-stats-delete-successes-age"`
	StatsDeleteFailuresSize  int64 `long:"sling-stats-delete-failures-size" description:"max retained failure records, 0 disables" toml:"sling-stats-delete-failures-size"`
	StatsDeleteSuccessesSize int64 `long:"sling-stats-delete-successes-size" description:"max retained success records, 0 disables" toml:"sling-stats-delete-successes-size"`
}

// maxStatsAgeSeconds bounds stats-delete-*-age, per spec.md §6's
// "smaller than …" message; ten years is generous headroom for a
// long-running engine without risking silent integer surprises.
const maxStatsAgeSeconds = int64(10 * 365 * 24 * time.Hour / time.Second)

// Defaults mirrors the teacher's preflightChecks "fill in zero values"
// pattern, using spec.md's stated example durations where given.
func Defaults() Config {
	return Config{
		DataDir:                 "sling",
		Connect:                 "127.0.0.1:10009",
		MacaroonFilename:        "admin.macaroon",
		Network:                 "mainnet",
		RPCListen:               "127.0.0.1:7337",
		RefreshPeersInterval:    60,
		RefreshAliasmapInterval: 3600,
		RefreshGraphInterval:    600,
		ResetLiquidityInterval:  360,
		DepleteUpToPercent:      0,
		DepleteUpToAmount:       0,
		MaxHops:                 8,
		CandidatesMinAge:        0,
		ParallelJobs:            1,
		TimeoutPay:              120,
		MaxHtlcCount:            5,
		StatsDeleteFailuresAge:  0,
		StatsDeleteSuccessesAge: 0,
		StatsDeleteFailuresSize: 10000,
		StatsDeleteSuccessesSize: 10000,
	}
}

// Load parses CLI flags into cfg (starting from Defaults()) and, if a
// config file was given, overlays it, exactly like the teacher's
// loadConfig: flags first (so --config is known), then toml.DecodeFile
// into the same struct.
func Load(args []string) (Config, error) {
	cfg := Defaults()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	if _, err := os.Stat(cfg.ConfigFile); err != nil {
		return Config{}, err
	}
	if _, err := toml.DecodeFile(cfg.ConfigFile, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against spec.md §6's table, returning a
// slingerr.Validation error with the exact literal message on the
// first violation found, in table order.
func Validate(cfg Config) error {
	const geOne = "must be greater than or equal to 1"

	if cfg.RefreshPeersInterval < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.RefreshAliasmapInterval < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.RefreshGraphInterval < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.ResetLiquidityInterval < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.DepleteUpToPercent != 0 && (cfg.DepleteUpToPercent <= 0 || cfg.DepleteUpToPercent >= 1) {
		return slingerr.Validationf("needs to be greater than 0 and <1")
	}
	if cfg.DepleteUpToAmount < 0 {
		return slingerr.Validationf("needs to be a positive number")
	}
	if cfg.MaxHops < 2 {
		return slingerr.Validationf("must be greater than or equal to 2")
	}
	if cfg.CandidatesMinAge < 0 {
		return slingerr.Validationf("needs to be a positive number")
	}
	if cfg.ParallelJobs > math.MaxUint16 {
		return slingerr.Validationf("out of range integral type conversion attempted")
	}
	if cfg.ParallelJobs < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.TimeoutPay < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.MaxHtlcCount < 1 {
		return slingerr.Validationf(geOne)
	}
	if cfg.StatsDeleteFailuresAge < 0 || cfg.StatsDeleteFailuresAge > maxStatsAgeSeconds {
		return slingerr.Validationf("needs to be a positive number and smaller than %d", maxStatsAgeSeconds)
	}
	if cfg.StatsDeleteSuccessesAge < 0 || cfg.StatsDeleteSuccessesAge > maxStatsAgeSeconds {
		return slingerr.Validationf("needs to be a positive number and smaller than %d", maxStatsAgeSeconds)
	}
	if cfg.StatsDeleteFailuresSize < 0 {
		return slingerr.Validationf("needs to be a positive number")
	}
	if cfg.StatsDeleteSuccessesSize < 0 {
		return slingerr.Validationf("needs to be a positive number")
	}
	return nil
}

func (c Config) RefreshPeers() time.Duration    { return time.Duration(c.RefreshPeersInterval) * time.Second }
func (c Config) RefreshAliasmap() time.Duration { return time.Duration(c.RefreshAliasmapInterval) * time.Second }
func (c Config) RefreshGraph() time.Duration    { return time.Duration(c.RefreshGraphInterval) * time.Second }
func (c Config) ResetLiquidity() time.Duration {
	return time.Duration(c.ResetLiquidityInterval) * time.Minute
}
func (c Config) TimeoutPayDuration() time.Duration { return time.Duration(c.TimeoutPay) * time.Second }
