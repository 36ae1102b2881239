// Command syndicate-rg runs the replica-gateway role server (spec
// §4.9): a dumb, driver-backed store for whatever a coordinator pushes
// to it, with no signature verification or re-signing of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/syndicate-storage/syndicate-sub005/gateway"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/internal/bootstrap"
	"github.com/syndicate-storage/syndicate-sub005/internal/clock"
	"github.com/syndicate-storage/syndicate-sub005/internal/config"
	"github.com/syndicate-storage/syndicate-sub005/internal/logger"
	"github.com/syndicate-storage/syndicate-sub005/internal/transport"
	"github.com/syndicate-storage/syndicate-sub005/localstore"
	"github.com/syndicate-storage/syndicate-sub005/metrics"
	"github.com/syndicate-storage/syndicate-sub005/rpc"
)

func registerRoleFlags(fs *pflag.FlagSet) {
	fs.Uint64("gateway-id", 0, "this gateway's MS-assigned numeric id")
	fs.Uint64("volume-id", 0, "the volume's MS-assigned numeric id")
	fs.String("read-driver", "", "path to the read driver executable")
	fs.String("write-driver", "", "path to the write driver executable")
	fs.String("delete-driver", "", "path to the delete driver executable")
	fs.Int("driver-pool-size", 4, "worker processes per driver role")
	fs.String("listen", ":7444", "address this gateway's RPC server binds")
	fs.String("log-file", "", "log destination (empty: stderr)")
}

func main() {
	cmd := config.NewRootCommand("syndicate-rg", run, registerRoleFlags)
	config.Execute(cmd)
}

func run(cfg *config.Config, fs *pflag.FlagSet) error {
	gatewayID, _ := fs.GetUint64("gateway-id")
	volumeID, _ := fs.GetUint64("volume-id")
	readDriver, _ := fs.GetString("read-driver")
	writeDriver, _ := fs.GetString("write-driver")
	deleteDriver, _ := fs.GetString("delete-driver")
	poolSize, _ := fs.GetInt("driver-pool-size")
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
	logger.Init(logw, sev, logger.FormatText, "[rg] ")
	log := logger.For("cmd.syndicate-rg")

	priv, err := config.LoadEd25519PrivateKey(cfg.GatewayPrivkey)
	if err != nil {
		return fmt.Errorf("loading gateway private key: %w", err)
	}
	identity := gwctx.NewIdentity(gatewayID, volumeID, 0, priv)

	metricsReg := metrics.NewRegistry()

	pool, err := bootstrap.NewDriverPool([]bootstrap.DriverSpec{
		{Role: "read", Path: readDriver},
		{Role: "write", Path: writeDriver},
		{Role: "delete", Path: deleteDriver},
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

	gc := gwctx.New(ctx, gwctx.RoleRG, identity, nil, clock.RealClock{}, metricsReg, log)
	defer gc.Shutdown()

	rg := gateway.NewRG(pool)
	srv := rpc.NewServer(gc, rg)

	log.Info("syndicate-rg starting", "listen", listen, "gateway_id", gatewayID, "volume_id", volumeID)
	return transport.Serve(ctx, listen, cfg, transport.Handler(srv))
}
