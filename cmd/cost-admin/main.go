package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ngoyal88/costrelay/pkg/billing"
	"github.com/ngoyal88/costrelay/pkg/cache"
	"github.com/ngoyal88/costrelay/pkg/config"
	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/ngoyal88/costrelay/pkg/logging"
	"github.com/ngoyal88/costrelay/pkg/service"
	"github.com/ngoyal88/costrelay/pkg/storage"
	"github.com/rs/zerolog"
)

var log = logging.New(config.LoggingConfig{Level: "info", Pretty: true}, os.Stderr)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		handleInit(os.Args[2:])
	case "query":
		handleQuery(os.Args[2:])
	case "purge-cache":
		handlePurge()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("cost-admin commands:")
	fmt.Println("  init                 Generate API and admin keys and store them in .env")
	fmt.Println("     flags: -env")
	fmt.Println("  query                Compute a cost summary directly against Cost Explorer")
	fmt.Println("     flags: -start -end -granularity -group-by")
	fmt.Println("  purge-cache          Remove every cached summary from Redis")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	return cfg
}

func mustRedis(cfg *config.Config) *cache.Client {
	if !cfg.Redis.Enabled {
		log.Fatal().Msg("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	return rdb
}

func handleInit(args []string) {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	envFile := flags.String("env", ".env", "File to write the keys to")
	if err := flags.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse flags")
	}

	apiKey, err := generateKey("ck_")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate api key")
	}
	adminKey, err := generateKey("admin_")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate admin key")
	}
	if err := writeEnv(*envFile, map[string]string{"API_KEY": apiKey, "ADMIN_KEY": adminKey}); err != nil {
		log.Fatal().Err(err).Str("file", *envFile).Msg("failed to write env file")
	}
	fmt.Printf("API_KEY:   %s\nADMIN_KEY: %s\nSaved to %s.\n", apiKey, adminKey, *envFile)
}

func handleQuery(args []string) {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	start := flags.String("start", time.Now().UTC().AddDate(0, -1, 0).Format("2006-01-02"), "Start date (YYYY-MM-DD)")
	end := flags.String("end", time.Now().UTC().Format("2006-01-02"), "End date (YYYY-MM-DD)")
	granularity := flags.String("granularity", string(cost.DefaultGranularity), "DAILY, MONTHLY or HOURLY")
	groupBy := flags.String("group-by", cost.DefaultDimension, "Comma separated dimensions")
	if err := flags.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse flags")
	}

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -start")
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -end")
	}

	cfg := mustLoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.AWS.Timeout())
	defer cancel()

	explorer, err := billing.NewCostExplorer(ctx, billing.Credentials{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure aws client")
	}
	client := billing.New(explorer, billing.Options{Timeout: cfg.AWS.Timeout(), Logger: log})
	svc := service.New(client, storage.NewMemoryStore(1, 0), zerolog.Nop())

	summary, err := svc.GetCostSummary(ctx, startDate, endDate, *granularity, strings.Split(*groupBy, ","))
	if err != nil {
		log.Fatal().Err(err).Str("kind", cost.KindOf(err)).Msg("query failed")
	}

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))
}

func handlePurge() {
	cfg := mustLoadConfig()
	rdb := mustRedis(cfg)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := rdb.DeletePrefix(ctx, storage.KeyPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("purge failed")
	}
	fmt.Printf("Removed %d cached summaries\n", n)
}

func generateKey(prefix string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// writeEnv sets each key in envFile, replacing existing assignments and
// keeping every other line.
func writeEnv(envFile string, values map[string]string) error {
	var lines []string

	data, err := os.ReadFile(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if len(data) > 0 {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}

	done := make(map[string]bool, len(values))
	for i, line := range lines {
		for k, v := range values {
			if strings.HasPrefix(line, k+"=") {
				lines[i] = k + "=" + v
				done[k] = true
			}
		}
	}
	for _, k := range []string{"API_KEY", "ADMIN_KEY"} {
		if v, ok := values[k]; ok && !done[k] {
			lines = append(lines, k+"="+v)
		}
	}

	return os.WriteFile(envFile, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
