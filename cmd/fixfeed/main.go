// Command fixfeed feeds device location fixes into the Redis-backed location
// capability. Each stdin line is "lat,lon" or "error:<reason>"; blank lines and
// lines starting with # are skipped.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/logger"
	"github.com/danghamo/proximity/pkg/redisx"
)

func main() {
	configPath := flag.String("config", "", "config file (defaults to the server search path)")
	redisURL := flag.String("redis-url", "", "redis URL, overrides redis.url")
	interval := flag.Duration("interval", 0, "delay between fixes, for replaying a recorded track")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *redisURL != "" {
		cfg.Redis.URL = *redisURL
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if !cfg.Redis.Enabled() {
		log.Fatal("No redis URL configured, set redis.url or --redis-url")
	}

	client, err := redisx.NewClient(cfg.Redis.URL, log, redisx.WithDB(cfg.Redis.DB))
	if err != nil {
		log.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer client.Close()

	locator, err := position.NewRedisLocator(client, position.RedisLocatorConfig{
		CurrentKey: cfg.Redis.CurrentKey,
		FixTopic:   cfg.Redis.FixTopic,
		FixTTL:     cfg.Redis.FixTTL,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize location capability", zap.Error(err))
	}
	defer locator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sent, err := feed(ctx, os.Stdin, locator, *interval, log)
	if err != nil {
		log.Error("Feeding fixes failed", zap.Int("sent", sent), zap.Error(err))
		return
	}
	log.Info("All fixes sent", zap.Int("sent", sent))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// FixPublisher stores one fix
type FixPublisher interface {
	PublishFix(ctx context.Context, rec position.FixRecord) error
}

func feed(ctx context.Context, r io.Reader, pub FixPublisher, interval time.Duration, log *logger.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	sent := 0
	for lineNo := 1; scanner.Scan(); lineNo++ {
		rec, ok, err := parseLine(scanner.Text())
		if err != nil {
			log.Warn("Skipping malformed line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		if sent > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interval):
			}
		}

		if err := pub.PublishFix(ctx, rec); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, scanner.Err()
}

// parseLine returns ok=false for lines that carry no fix
func parseLine(line string) (position.FixRecord, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return position.FixRecord{}, false, nil
	}

	if reason, found := strings.CutPrefix(line, "error:"); found {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return position.FixRecord{}, false, fmt.Errorf("missing error reason")
		}
		return position.FixRecord{Error: reason}, true, nil
	}

	latRaw, lonRaw, found := strings.Cut(line, ",")
	if !found {
		return position.FixRecord{}, false, fmt.Errorf("expected \"lat,lon\", got %q", line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return position.FixRecord{}, false, fmt.Errorf("invalid latitude %q", latRaw)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return position.FixRecord{}, false, fmt.Errorf("invalid longitude %q", lonRaw)
	}
	return position.FixRecord{Latitude: lat, Longitude: lon}, true, nil
}
