// Command lookup resolves one item from the command line and prints the
// decision with its contributing quotes. Useful for poking sources without
// running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"pricearbiter/internal/arbiter"
	"pricearbiter/internal/config"
	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/logging"
	"pricearbiter/internal/source/ninja"
	"pricearbiter/internal/source/trade"
	"pricearbiter/internal/source/watch"
)

func main() {
	var (
		name       string
		baseType   string
		rarity     string
		category   string
		league     string
		game       string
		timeoutSec int
		configPath string
	)
	flag.StringVar(&name, "name", "", "item name (e.g. \"Headhunter\" or \"Divine Orb\")")
	flag.StringVar(&baseType, "base", "", "base type (e.g. \"Leather Belt\")")
	flag.StringVar(&rarity, "rarity", string(item.RarityUnique), "normal|magic|rare|unique|currency|gem")
	flag.StringVar(&category, "category", "", "category hint (e.g. accessory, map, card)")
	flag.StringVar(&league, "league", "Standard", "league name")
	flag.StringVar(&game, "game", string(item.GamePoE1), "poe1|poe2")
	flag.IntVar(&timeoutSec, "timeout", 15, "lookup timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	cfg.Logging.File = "" // CLI logs to stderr only
	log := logging.Setup(cfg.Logging)
	log.SetOutput(os.Stderr)

	engine := arbiter.New(
		arbiter.WithThreshold(cfg.Resolver.DivergenceThreshold),
		arbiter.WithPrimary(cfg.Resolver.PrimarySource),
		arbiter.WithTimeout(time.Duration(timeoutSec)*time.Second),
	)
	if cfg.Sources.Ninja.Enabled {
		engine.Register(ninja.New(client("ninja", cfg.Sources.Ninja)))
	}
	if cfg.Sources.Watch.Enabled {
		engine.Register(watch.New(client("watch", cfg.Sources.Watch)))
	}
	if cfg.Sources.Trade.Enabled {
		engine.Register(trade.New(client("trade", cfg.Sources.Trade)))
	}

	id := item.Identity{
		Name:     name,
		BaseType: baseType,
		Rarity:   item.Rarity(rarity),
		Category: category,
	}
	market := item.Market{League: league, Game: item.Game(game)}

	decision, err := engine.Resolve(context.Background(), id, market)
	if err != nil {
		log.WithError(err).Fatal("resolve")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(decision)
}

func client(name string, sc config.SourceConfig) *fetch.Client {
	header := http.Header{}
	if sc.APIKey != "" {
		header.Set("Authorization", "Bearer "+sc.APIKey)
	}
	return fetch.New(fetch.Config{
		Name:              name,
		BaseURL:           strings.TrimRight(sc.Endpoint, "/"),
		RequestsPerSecond: sc.RequestsPerSecond,
		CacheTTL:          time.Duration(sc.CacheTTLSec) * time.Second,
		MaxCacheEntries:   sc.CacheMaxEntries,
		MaxRetries:        sc.MaxRetries,
		Header:            header,
	})
}
