// Command syndicate-ag runs the acquisition-gateway role server (spec
// §4.9): a read-only coordinator for whatever paths its crawler
// discovers through the "crawl" driver role, publishing each find to
// the MS via the UG client path.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/gateway"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/internal/bootstrap"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/internal/config"
	"github.com/syndicate-storage/syndicate-sub005/internal/logger"
	"github.com/syndicate-storage/syndicate-sub005/internal/transport"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/localstore"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/rpc"
)

func registerRoleFlags(fs *pflag.FlagSet) {
	fs.Uint64("gateway-id", 0, "this gateway's MS-assigned numeric id")
	fs.Uint64("volume-id", 0, "the volume's MS-assigned numeric id")
	fs.Uint64("user-id", 0, "the owning user's MS-assigned numeric id")
	fs.Int64("block-size", 4<<20, "the volume's fixed block size in bytes")
	fs.String("read-driver", "", "path to the read driver executable")
	fs.String("crawl-driver", "", "path to the crawl driver executable")
	fs.Int("driver-pool-size", 2, "worker processes per driver role")
	fs.Duration("crawl-interval", 30*time.Second, "delay between crawl sweeps")
	fs.String("listen", ":7445", "address this gateway's RPC server binds")
	fs.String("log-file", "", "log destination (empty: stderr)")
}

func main() {
	cmd := config.NewRootCommand("syndicate-ag", run, registerRoleFlags)
	config.Execute(cmd)
}

func run(cfg *config.Config, fs *pflag.FlagSet) error {
	gatewayID, _ := fs.GetUint64("gateway-id")
	volumeID, _ := fs.GetUint64("volume-id")
	userID, _ := fs.GetUint64("user-id")
	blockSize, _ := fs.GetInt64("block-size")
	readDriver, _ := fs.GetString("read-driver")
	crawlDriver, _ := fs.GetString("crawl-driver")
	poolSize, _ := fs.GetInt("driver-pool-size")
	crawlInterval, _ := fs.GetDuration("crawl-interval")
	listen, _ := fs.GetString("listen")
	logPath, _ := fs.GetString("log-file")

	logw, err := bootstrap.OpenLogWriter(logPath)
	if err != nil {
		return err
	}
	sev, err := logger.ParseSeverity(cfg.DebugLevel)
	if err != nil {
		return err
	}
	logger.Init(logw, sev, logger.FormatText, "[ag] ")
	log := logger.For("cmd.syndicate-ag")

	priv, err := config.LoadEd25519PrivateKey(cfg.GatewayPrivkey)
	if err != nil {
		return fmt.Errorf("loading gateway private key: %w", err)
	}
	identity := gwctx.NewIdentity(gatewayID, volumeID, userID, priv)

	metricsReg := metrics.NewRegistry()

	pool, err := bootstrap.NewDriverPool([]bootstrap.DriverSpec{
		{Role: "read", Path: readDriver},
		{Role: "crawl", Path: crawlDriver},
	}, poolSize, metricsReg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := localstore.NewStore(cfg.StorageRoot+"/cache", cfg.StorageRoot+"/meta")
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	reaped, err := store.ReapStartup()
	if err != nil {
		return fmt.Errorf("reaping stale uploads: %w", err)
	}
	log.Info("reaped stale in-flight uploads from a prior process", "count", reaped, "session", store.SessionID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The crawler's ms client is nil here, the same external-collaborator
	// seam every role's MS calls go through (spec §1); a deployment links
	// a concrete msclient.Client before the crawl loop can publish finds.
	gc := gwctx.New(ctx, gwctx.RoleAG, identity, nil, clock.RealClock{}, metricsReg, log)
	gc.BlockSize = blockSize
	defer gc.Shutdown()

	cache := inode.NewCache()
	codec := &chunk.Codec{Driver: pool, Signer: &chunk.Signer{GatewayID: gatewayID, PrivateKey: priv}}
	ag := gateway.NewAG(gc, cache, codec, pool)
	srv := rpc.NewServer(gc, ag)

	crawler := gateway.NewCrawler(gc, cache, pool, gc.MS, volumeID, blockSize)
	go runCrawlLoop(ctx, gc, crawler, crawlInterval, log)

	log.Info("syndicate-ag starting", "listen", listen, "gateway_id", gatewayID, "volume_id", volumeID)
	return transport.Serve(ctx, listen, cfg, transport.Handler(srv))
}

// runCrawlLoop re-invokes one Crawler.Run sweep every interval until ctx
// is cancelled (spec §4.9: a crawler "continuously polls" its driver
// role; Run itself returns once it drains a Finish stanza).
func runCrawlLoop(ctx context.Context, gc *gwctx.Context, crawler *gateway.Crawler, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-gc.Done():
			return
		case <-ticker.C:
			if err := crawler.Run(ctx); err != nil {
				log.Error("crawl sweep failed", "error", err)
			}
		}
	}
}
