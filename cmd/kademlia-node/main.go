// Command kademlia-node runs a standalone DHT peer reachable over
// WebSocket, per spec.md §6's CLI surface.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/gxnda/kademlia"
	"github.com/gxnda/kademlia/store"
	"github.com/gxnda/kademlia/transport"
)

var (
	addressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "address to listen on and advertise, host:port",
		Value: "127.0.0.1:8468",
	}
	idFlag = cli.StringFlag{
		Name:  "id",
		Usage: "40-character hex node ID (random if omitted)",
	}
	bootstrapFlag = cli.StringFlag{
		Name:  "bootstrap",
		Usage: "address of an already-reachable peer to bootstrap from",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML config file overriding the tunable defaults",
	}
	storeFlag = cli.StringFlag{
		Name:  "store",
		Usage: "path to a bolt database for durable storage (in-memory if omitted)",
	}
	snapshotFlag = cli.StringFlag{
		Name:  "snapshot",
		Usage: "path to load/save a routing table and storage snapshot across restarts",
	}
	parallelFlag = cli.BoolFlag{
		Name:  "parallel",
		Usage: "use the parallel (fan-out) lookup router instead of the serial one",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug-level logging",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "run a Kademlia DHT peer"
	app.Action = run
	app.Flags = []cli.Flag{
		addressFlag,
		idFlag,
		bootstrapFlag,
		configFlag,
		storeFlag,
		snapshotFlag,
		parallelFlag,
		verboseFlag,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.GlobalBool(verboseFlag.Name) {
		cfg.Debug = true
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	address := ctx.GlobalString(addressFlag.Name)

	var protocolFor func(id kademlia.ID, addr string) kademlia.Protocol
	var protocolFactory transport.ProtocolFactory
	protocolFactory = func(addr string) kademlia.Protocol {
		return transport.NewWebSocketProtocol(addr, cfg.RequestTimeout, protocolFactory)
	}
	protocolFor = func(_ kademlia.ID, addr string) kademlia.Protocol {
		return protocolFactory(addr)
	}

	republish, originator, cache, closeStores, err := openStorages(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	opts := kademlia.DHTOptions{
		OriginatorStorage: originator,
		RepublishStorage:  republish,
		CacheStorage:      cache,
		UseParallelRouter: ctx.GlobalBool(parallelFlag.Name),
	}

	dht, err := buildDHT(ctx, cfg, address, protocolFactory, protocolFor, opts)
	if err != nil {
		return err
	}

	server := transport.NewServer(dht.Node(), cfg.RequestTimeout, protocolFactory)
	httpServer := &http.Server{Addr: address, Handler: server}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("listener failed")
		}
	}()
	logrus.WithField("address", address).Info("kademlia node listening")

	if bootstrapAddr := ctx.GlobalString(bootstrapFlag.Name); bootstrapAddr != "" {
		if err := bootstrap(dht, bootstrapAddr, protocolFactory); err != nil {
			logrus.WithError(err).Warn("bootstrap failed")
		}
	}

	dht.StartMaintenance()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	dht.Close()
	_ = httpServer.Close()

	if snapshotPath := ctx.GlobalString(snapshotFlag.Name); snapshotPath != "" {
		if err := kademlia.Save(dht, snapshotPath); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
	}
	return nil
}

func loadConfig(ctx *cli.Context) (*kademlia.Config, error) {
	if path := ctx.GlobalString(configFlag.Name); path != "" {
		return kademlia.LoadConfig(path)
	}
	return kademlia.DefaultConfig(), nil
}

// openStorages builds the three Storage instances a DHT needs.
// republishStorage (what this node serves to peers) and
// originatorStorage (what this node personally published) share the
// durable backend when --store is given, since both need to survive a
// restart; cacheStorage is always the bounded in-memory LRU, per
// spec.md's note that cache entries are disposable.
func openStorages(ctx *cli.Context, cfg *kademlia.Config) (republish, originator, cache kademlia.Storage, closeFn func(), err error) {
	cache = store.NewCache(cfg.K * 20)

	path := ctx.GlobalString(storeFlag.Name)
	if path == "" {
		return store.NewVolatile(), store.NewVolatile(), cache, func() {}, nil
	}

	republishDB, err := store.OpenPersistent(path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening republish store: %w", err)
	}
	originatorDB, err := store.OpenPersistent(path + ".originator")
	if err != nil {
		republishDB.Close()
		return nil, nil, nil, nil, fmt.Errorf("opening originator store: %w", err)
	}
	closeFn = func() {
		republishDB.Close()
		originatorDB.Close()
	}
	return republishDB, originatorDB, cache, closeFn, nil
}

func buildDHT(
	ctx *cli.Context,
	cfg *kademlia.Config,
	address string,
	protocolFactory transport.ProtocolFactory,
	protocolFor func(id kademlia.ID, addr string) kademlia.Protocol,
	opts kademlia.DHTOptions,
) (*kademlia.DHT, error) {
	snapshotPath := ctx.GlobalString(snapshotFlag.Name)
	if snapshotPath != "" {
		if _, err := os.Stat(snapshotPath); err == nil {
			snap, err := kademlia.Load(snapshotPath)
			if err != nil {
				return nil, fmt.Errorf("loading snapshot: %w", err)
			}
			logrus.WithField("path", snapshotPath).Info("restoring from snapshot")
			return kademlia.Rehydrate(snap, cfg, opts, protocolFor)
		}
	}

	id, err := resolveID(ctx)
	if err != nil {
		return nil, err
	}
	ourContact := kademlia.NewContact(id, protocolFactory(address))
	return kademlia.NewDHT(ourContact, cfg, opts), nil
}

func resolveID(ctx *cli.Context) (kademlia.ID, error) {
	if hexID := ctx.GlobalString(idFlag.Name); hexID != "" {
		id, err := kademlia.IDFromString(hexID)
		if err != nil {
			return kademlia.ID{}, fmt.Errorf("parsing --%s: %w", idFlag.Name, err)
		}
		return id, nil
	}
	return kademlia.NewRandomID(), nil
}

// bootstrap pings the peer at address to learn its ID, then hands the
// resulting contact to DHT.Bootstrap.
func bootstrap(dht *kademlia.DHT, address string, protocolFactory transport.ProtocolFactory) error {
	proto := protocolFactory(address)
	result, rpcErr := proto.Ping(dht.Node().OurContact)
	if rpcErr.HasError() {
		return fmt.Errorf("pinging bootstrap peer %s: %w", address, rpcErr)
	}
	known := kademlia.NewContact(result.Contact.ID, proto)
	return dht.Bootstrap(known)
}
