// Command syndicate-ug runs the user-gateway role server (spec §4.9): a
// coordinator for the files it owns, backed by a local inode cache, a
// driver-backed block/manifest store, and gateway-to-gateway RPC to its
// volume's RGs and other UGs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/syndicate-storage/syndicate-sub005/chunk"
	"github.com/syndicate-storage/syndicate-sub005/errs"
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
	"github.com/syndicate-storage/syndicate-sub005/vacuum"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// registerRoleFlags registers the flags local to this binary: spec §6's CLI surface doesn't name
// a gateway's numeric identity or its driver executables, since MS name
// resolution and the individual driver implementations are both named
// external collaborators (spec §1).
func registerRoleFlags(fs *pflag.FlagSet) {
	fs.Uint64("gateway-id", 0, "this gateway's MS-assigned numeric id")
	fs.Uint64("volume-id", 0, "the volume's MS-assigned numeric id")
	fs.Uint64("user-id", 0, "the owning user's MS-assigned numeric id")
	fs.Int64("block-size", 4<<20, "the volume's fixed block size in bytes")
	fs.String("read-driver", "", "path to the read driver executable")
	fs.String("write-driver", "", "path to the write driver executable")
	fs.String("delete-driver", "", "path to the delete driver executable")
	fs.String("serialize-driver", "", "path to the serialize driver executable (empty: identity)")
	fs.String("deserialize-driver", "", "path to the deserialize driver executable (empty: identity)")
	fs.Int("driver-pool-size", 4, "worker processes per driver role")
	fs.String("listen", ":7443", "address this gateway's RPC server binds")
	fs.String("log-file", "", "log destination (empty: stderr)")
	fs.StringToString("peer", nil, "gateway_id=host:port entries for the RPC directory the MS would otherwise serve (spec §1)")
	fs.String("rg-ids", "", "comma-separated RG gateway ids this volume replicates to")
	fs.Duration("vacuum-interval", 10*time.Second, "delay between vacuum queue sweeps")
}

// staticAddressor resolves a gateway id to an address from the operator-
// supplied --peer list, standing in for the MS-backed directory service
// spec §1 names as an external collaborator.
func staticAddressor(peers map[string]string) transport.Addressor {
	return func(gatewayID uint64) (string, error) {
		addr, ok := peers[strconv.FormatUint(gatewayID, 10)]
		if !ok {
			return "", errs.New("cmd.syndicate-ug.staticAddressor", errs.NoData,
				fmt.Errorf("no --peer entry for gateway %d", gatewayID))
		}
		return addr, nil
	}
}

func parseRGIDs(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []uint64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing --rg-ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	cmd := config.NewRootCommand("syndicate-ug", run, registerRoleFlags)
	config.Execute(cmd)
}

func run(cfg *config.Config, fs *pflag.FlagSet) error {
	gatewayID, _ := fs.GetUint64("gateway-id")
	volumeID, _ := fs.GetUint64("volume-id")
	userID, _ := fs.GetUint64("user-id")
	blockSize, _ := fs.GetInt64("block-size")
	readDriver, _ := fs.GetString("read-driver")
	writeDriver, _ := fs.GetString("write-driver")
	deleteDriver, _ := fs.GetString("delete-driver")
	serializeDriver, _ := fs.GetString("serialize-driver")
	deserializeDriver, _ := fs.GetString("deserialize-driver")
	poolSize, _ := fs.GetInt("driver-pool-size")
	listen, _ := fs.GetString("listen")
	logPath, _ := fs.GetString("log-file")
	peers, _ := fs.GetStringToString("peer")
	rgIDsRaw, _ := fs.GetString("rg-ids")
	vacuumInterval, _ := fs.GetDuration("vacuum-interval")

	rgIDs, err := parseRGIDs(rgIDsRaw)
	if err != nil {
		return err
	}

	logw, err := bootstrap.OpenLogWriter(logPath)
	if err != nil {
		return err
	}
	sev, err := logger.ParseSeverity(cfg.DebugLevel)
	if err != nil {
		return err
	}
	logger.Init(logw, sev, logger.FormatText, "[ug] ")
	log := logger.For("cmd.syndicate-ug")

	priv, err := config.LoadEd25519PrivateKey(cfg.GatewayPrivkey)
	if err != nil {
		return fmt.Errorf("loading gateway private key: %w", err)
	}
	identity := gwctx.NewIdentity(gatewayID, volumeID, userID, priv)
	if cfg.VolumePubkey != "" {
		pub, err := config.LoadEd25519PublicKey(cfg.VolumePubkey)
		if err != nil {
			return fmt.Errorf("loading volume pubkey: %w", err)
		}
		identity.TrustGatewayKey(volumeID, pub)
	}

	metricsReg := metrics.NewRegistry()

	pool, err := bootstrap.NewDriverPool([]bootstrap.DriverSpec{
		{Role: "read", Path: readDriver},
		{Role: "write", Path: writeDriver},
		{Role: "delete", Path: deleteDriver},
		{Role: "serialize", Path: serializeDriver},
		{Role: "deserialize", Path: deserializeDriver},
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

	// gwctx.New's MS argument is the seam the MS wire protocol (spec §1, out of
	// scope) plugs in at; left nil here, a concrete msclient.Client
	// wires in at this call.
	gc := gwctx.New(ctx, gwctx.RoleUG, identity, nil, clock.RealClock{}, metricsReg, log)
	gc.BlockSize = blockSize
	defer gc.Shutdown()

	cache := inode.NewCache()
	codec := &chunk.Codec{Driver: pool, Signer: &chunk.Signer{GatewayID: gatewayID, PrivateKey: priv}}
	ug := gateway.NewUG(gc, cache, codec, pool)
	srv := rpc.NewServer(gc, ug)

	rpcClient := rpc.NewClient(gc, transport.NewClient(nil, staticAddressor(peers)))
	vq := vacuum.NewQueue(vacuum.Deps{
		MS:      gc.MS,
		Fetcher: rpcClient,
		Delete: func(ctx context.Context, gatewayID uint64, req *wire.RequestData) error {
			return rpcClient.DeleteChunks(ctx, gatewayID, req)
		},
		RGIDs:     rgIDs,
		Clock:     gc.Clock,
		Metrics:   metricsReg,
		SelfID:    gatewayID,
		MaxFanout: len(rgIDs),
	})
	go runVacuumLoop(ctx, gc, vq, vacuumInterval, log)

	log.Info("syndicate-ug starting", "listen", listen, "gateway_id", gatewayID, "volume_id", volumeID)
	return transport.Serve(ctx, listen, cfg, transport.Handler(srv))
}

// runVacuumLoop sweeps the vacuum queue every interval until ctx is
// cancelled (spec §4.8: the vacuumer is a single long-lived worker per
// gateway that "reclaims manifests and blocks superseded by a newer
// file version").
func runVacuumLoop(ctx context.Context, gc *gwctx.Context, q *vacuum.Queue, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-gc.Done():
			return
		case <-ticker.C:
			if finished := q.RunDue(ctx); len(finished) > 0 {
				log.Info("vacuum swept contexts", "count", len(finished), "remaining", q.Depth())
			}
		}
	}
}
