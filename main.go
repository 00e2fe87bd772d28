package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/api"
	"github.com/serroba/docsync/internal/discovery"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/repo"
	"github.com/serroba/docsync/internal/share"
	"github.com/serroba/docsync/internal/storage"
	"github.com/serroba/docsync/internal/storage/bolt"
	"github.com/serroba/docsync/internal/storage/filesystem"
	"github.com/serroba/docsync/internal/storage/firestore"
	"github.com/serroba/docsync/internal/storage/postgres"
	"github.com/serroba/docsync/internal/storage/redis"
	"github.com/serroba/docsync/internal/storage/sqlite"
	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/ws"
)

const version = "0.1.0"

const usage = `Document sync server.

Usage:
    docsync serve [--addr=<addr>] [--peer-id=<id>]
        [--storage=<kind>] [--path=<path>] [--dsn=<dsn>]
        [--peer=<url>...] [--mdns] [--private] [--accept-unknown]
        [--snapshot-threshold=<n>] [--sync-interval=<d>] [--verbosity=<level>]
    docsync -h | --help
    docsync --version

Storage kinds: memory, fs, bolt, sqlite, postgres, redis, firestore.
--path is used by fs, bolt and sqlite. --dsn is a postgres URL, a redis
address or a firestore project ID.

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --addr=<addr>               Listen address [default: :8080].
    --peer-id=<id>              Peer ID presented to other repos. Random if empty.
    --storage=<kind>            Storage backend [default: memory].
    --path=<path>               Storage path [default: docsync-data].
    --dsn=<dsn>                 Storage connection string.
    --peer=<url>                Sync endpoint to keep connected, e.g. ws://host:8080/sync.
    --mdns                      Advertise and discover repos on the local network.
    --private                   Announce only documents shared through the API.
    --accept-unknown            Store documents peers announce even if nobody asked.
    --snapshot-threshold=<n>    Incremental changes before compaction, negative disables [default: 64].
    --sync-interval=<d>         Maintenance interval [default: 10s].
    --verbosity=<level>         Log verbosity [default: 0].`

const syncPath = "/sync"

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}

	// glog reads its settings from the standard flag set.
	_ = flag.CommandLine.Parse(nil)
	_ = flag.Set("logtostderr", "true")

	if level, _ := opts.String("--verbosity"); level != "" {
		_ = flag.Set("v", level)
	}

	defer glog.Flush()

	if serve_, _ := opts.Bool("serve"); serve_ {
		if err := serve(opts); err != nil {
			glog.Errorf("%v", err)
			glog.Flush()
			os.Exit(1)
		}
	}
}

func serve(opts docopt.Opts) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, closeStorage, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage()

	cfg, err := repoConfig(opts, adapter)
	if err != nil {
		return err
	}

	grants := share.NewMemoryStore()
	if private, _ := opts.Bool("--private"); private {
		cfg.SharePolicy = share.NewChecker(grants)
	}

	r := repo.New(cfg)

	addr, _ := opts.String("--addr")
	server := api.NewServer(api.ServerConfig{Repo: r, Grants: grants})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	peers, _ := opts["--peer"].([]string)
	for _, url := range peers {
		wg.Go(func() {
			keepConnected(ctx, r, url)
		})
	}

	if mdns, _ := opts.Bool("--mdns"); mdns {
		if advertiser, err := advertise(r.PeerID(), addr); err != nil {
			glog.Warningf("[discovery] not advertising: %v", err)
		} else {
			defer advertiser.Shutdown()
		}

		wg.Go(func() {
			browse(ctx, r, &wg)
		})
	}

	serveErr := make(chan error, 1)

	go func() {
		glog.Infof("Starting server on %s as %s", addr, r.PeerID())

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}

		close(serveErr)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		glog.Info("Shutting down")
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	if cerr := r.Close(); cerr != nil {
		glog.Errorf("close repo: %v", cerr)
	}

	wg.Wait()

	return err
}

func repoConfig(opts docopt.Opts, adapter storage.Adapter) (repo.Config, error) {
	peerID, _ := opts.String("--peer-id")
	acceptUnknown, _ := opts.Bool("--accept-unknown")

	threshold, err := opts.Int("--snapshot-threshold")
	if err != nil {
		return repo.Config{}, fmt.Errorf("--snapshot-threshold: %w", err)
	}

	interval, _ := opts.String("--sync-interval")

	syncInterval, err := time.ParseDuration(interval)
	if err != nil {
		return repo.Config{}, fmt.Errorf("--sync-interval: %w", err)
	}

	return repo.Config{
		PeerID:            peerID,
		Storage:           adapter,
		SnapshotThreshold: threshold,
		AcceptUnknown:     acceptUnknown,
		SyncInterval:      syncInterval,
	}, nil
}

func openStorage(ctx context.Context, opts docopt.Opts) (storage.Adapter, func(), error) {
	kind, _ := opts.String("--storage")
	path, _ := opts.String("--path")
	dsn, _ := opts.String("--dsn")

	noop := func() {}

	switch kind {
	case "memory":
		return storage.NewMemoryAdapter(), noop, nil
	case "fs":
		a, err := filesystem.New(path)
		if err != nil {
			return nil, nil, err
		}

		return a, noop, nil
	case "bolt":
		a, err := bolt.Open(path)
		if err != nil {
			return nil, nil, err
		}

		return a, func() { _ = a.Close() }, nil
	case "sqlite":
		a, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}

		return a, func() { _ = a.Close() }, nil
	case "postgres":
		a, err := postgres.Open(ctx, postgres.Config{URL: dsn})
		if err != nil {
			return nil, nil, err
		}

		return a, a.Close, nil
	case "redis":
		a, err := redis.Open(ctx, redis.Config{Addr: dsn})
		if err != nil {
			return nil, nil, err
		}

		return a, func() { _ = a.Close() }, nil
	case "firestore":
		client, err := gcfirestore.NewClient(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}

		return firestore.New(client, ""), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", kind)
	}
}

// keepConnected redials url until ctx ends or the policy gives up.
func keepConnected(ctx context.Context, r *repo.Repo, url string) {
	dial := func(ctx context.Context) (transport.Conn, error) {
		return ws.Dial(ctx, url)
	}

	if err := network.Redial(ctx, url, dial, r.Connect, network.DefaultRedialPolicy); err != nil && !errors.Is(err, context.Canceled) {
		glog.Warningf("[redial] gave up on %s: %v", url, err)
	}
}

func advertise(peerID, addr string) (*discovery.Advertiser, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("--addr: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("--addr port: %w", err)
	}

	return discovery.Advertise(peerID, port, syncPath)
}

// browse connects to every repo found on the local network. Only the side
// with the smaller peer ID dials so each pair shares one connection.
func browse(ctx context.Context, r *repo.Repo, wg *sync.WaitGroup) {
	err := discovery.Browse(ctx, r.PeerID(), func(svc discovery.Service) {
		if r.PeerID() > svc.PeerID {
			return
		}

		wg.Go(func() {
			keepConnected(ctx, r, svc.URL)
		})
	})
	if err != nil {
		glog.Warningf("[discovery] %v", err)
	}
}
