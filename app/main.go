package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"

	"github.com/pasta-sh/pasta/app/codec"
	"github.com/pasta-sh/pasta/app/crypt"
	"github.com/pasta-sh/pasta/app/keeper"
	"github.com/pasta-sh/pasta/app/server"
	"github.com/pasta-sh/pasta/app/store"
)

var opts struct {
	Listen  string `short:"l" long:"listen" env:"PASTA_LISTEN" default:":8080" description:"address:port to listen on"`
	DataDir string `short:"d" long:"data" env:"PASTA_DATA" default:"./pasta_data" description:"data directory"`
	Engine  string `short:"e" long:"engine" env:"PASTA_ENGINE" choice:"json" choice:"sqlite" default:"json" description:"storage engine"`

	HashIDs       bool   `long:"hash-ids" env:"PASTA_HASH_IDS" description:"use hashids instead of animal names for public ids"`
	GCDays        int    `long:"gc-days" env:"PASTA_GC_DAYS" default:"90" description:"remove pastas not read for this many days, 0 disables"`
	NoEternal     bool   `long:"no-eternal" env:"PASTA_NO_ETERNAL" description:"cap the never expiration at one week"`
	DefaultExpiry string `long:"default-expiry" env:"PASTA_DEFAULT_EXPIRY" default:"24hour" description:"expiration used when the request carries none"`
	EnableAliases bool   `long:"aliases" env:"PASTA_ALIASES" description:"allow custom aliases for pastas"`

	MaxFileSizeMB    uint64 `long:"max-file-mb" env:"PASTA_MAX_FILE_MB" default:"256" description:"max plaintext attachment size, mb"`
	MaxEncFileSizeMB uint64 `long:"max-enc-file-mb" env:"PASTA_MAX_ENC_FILE_MB" default:"0" description:"max encrypted attachment size, mb, 0 means same as plaintext"`

	AuthHash string `long:"auth-hash" env:"PASTA_AUTH_HASH" description:"bcrypt hash gating uploads, empty disables auth"`
	ListAPI  bool   `long:"list-api" env:"PASTA_LIST_API" description:"expose the public listing endpoint"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("pasta %s\n", revision)
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context) error {
	engine, err := getEngine(opts.Engine, opts.DataDir)
	if err != nil {
		return fmt.Errorf("can't make storage engine: %w", err)
	}

	cdc, err := codec.New(codecMode(opts.HashIDs))
	if err != nil {
		return fmt.Errorf("can't make id codec: %w", err)
	}

	k, err := keeper.New(ctx, engine, cdc, crypt.Crypt{}, keeper.Config{
		DataDir:          opts.DataDir,
		GCDays:           opts.GCDays,
		NoEternal:        opts.NoEternal,
		DefaultExpiry:    opts.DefaultExpiry,
		MaxFileSizeMB:    opts.MaxFileSizeMB,
		MaxEncFileSizeMB: opts.MaxEncFileSizeMB,
		EnableAliases:    opts.EnableAliases,
	})
	if err != nil {
		return fmt.Errorf("can't make keeper: %w", err)
	}
	defer func() {
		if clsErr := k.Close(); clsErr != nil {
			log.Printf("[WARN] failed to close keeper, %v", clsErr)
		}
	}()

	srv := server.New(k, revision, server.Config{
		Listen:   opts.Listen,
		AuthHash: opts.AuthHash,
		ListAPI:  opts.ListAPI,
	})
	return srv.Run(ctx)
}

func getEngine(engineType, dataDir string) (store.Engine, error) {
	switch engineType {
	case "json":
		return store.NewJSON(dataDir)
	case "sqlite":
		return store.NewSQLite(dataDir)
	}
	return nil, fmt.Errorf("unknown engine type %s", engineType)
}

func codecMode(hashIDs bool) codec.Mode {
	if hashIDs {
		return codec.ModeHashIDs
	}
	return codec.ModeAnimals
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
