package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"carenotify/internal/archive"
	"carenotify/internal/credential"
	"carenotify/internal/feed"
	"carenotify/internal/model"
	"carenotify/internal/notify"
	"carenotify/internal/obs"
	"carenotify/internal/ops"
	"carenotify/internal/rest"
	"carenotify/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	subscriber := flag.String("subscriber", "", "Subscriber id, overrides server.subscriberId")
	token := flag.String("token", "", "Auth token, tried before the configured sources")
	profile := flag.Bool("profile", false, "Send profiles to profiler.serverAddress")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("missing config; use -config")
	}
	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *subscriber != "" {
		cfg.SubscriberID = *subscriber
	}
	if cfg.SubscriberID == "" {
		log.Fatalf("missing subscriber; set server.subscriberId or use -subscriber")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profile {
		profiler, err := startProfiler(cfg.Profiler)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	tokens := tokenSource(cfg.Credential, *token)
	metrics := obs.NewMetrics()

	client, err := notify.New(notify.Config{
		Host:                 cfg.Host,
		Secure:               cfg.Secure,
		Tokens:               tokens,
		MaxReconnectAttempts: cfg.Retry.MaxAttempts,
		ReconnectInterval:    cfg.Retry.Interval,
		WriteQueueSize:       cfg.WriteQueueSize,
		WriteOverflow:        cfg.WriteOverflow,
		Metrics:              metrics,
	})
	if err != nil {
		log.Fatalf("client init failed: %v", err)
	}

	restClient, err := rest.New(cfg.RESTBaseURL, &http.Client{Timeout: cfg.RESTTimeout}, tokens)
	if err != nil {
		log.Fatalf("rest init failed: %v", err)
	}
	notifications, err := feed.New(client, restClient, cfg.SubscriberID)
	if err != nil {
		log.Fatalf("feed init failed: %v", err)
	}

	client.OnConnectionStatus(func(connected bool) {
		logs.Infof("connection status: connected=%t state=%s", connected, client.State())
	})
	client.OnNotification(func(n model.Notification) {
		logs.Infof("notification %d [%s] urgent=%t: %s", n.ID, n.Status, n.IsUrgent, n.Title)
	})
	client.OnUnreadCount(func(count int) {
		logs.Infof("unread: %d", count)
	})

	var wg sync.WaitGroup

	var db *conn.Client
	var recorder *archive.Recorder
	if cfg.ArchiveEnabled() {
		db, recorder, err = openArchive(ctx, cfg.Archive, metrics)
		if err != nil {
			log.Fatalf("archive init failed: %v", err)
		}
		recorder.Attach(client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()
	}

	if err := client.Connect(ctx, cfg.SubscriberID); err != nil {
		logs.Errorf("initial connect failed, falling back to polling, err: %+v", err)
	}

	if count, route, err := notifications.UnreadCount(ctx); err != nil {
		logs.Errorf("unread count, err: %+v", err)
	} else {
		logs.Infof("unread: %d (via %s)", count, route)
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		notify.KeepAlive(ctx, client, cfg.KeepAlive)
	}()
	go func() {
		defer wg.Done()
		_ = notifications.Poll(ctx, cfg.PollInterval, func(page model.Page) {
			logs.Infof("offline poll: %d unread, %d on first page", page.Count, len(page.Results))
		})
	}()
	go func() {
		defer wg.Done()
		supervise(ctx, client, cfg.SubscriberID, cfg.PollInterval)
	}()
	go func() {
		defer wg.Done()
		logMetrics(ctx, metrics, cfg.MetricsInterval)
	}()

	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
		stop()
	}

	logs.Info("shutting down")
	client.Disconnect()
	if recorder != nil {
		recorder.Close()
	}
	wg.Wait()
	if db != nil {
		if err := db.Close(); err != nil {
			logs.Errorf("close archive db, err: %+v", err)
		}
	}
}

func tokenSource(cfg ops.CredentialConfig, override string) credential.Source {
	var sources []credential.Source
	if override != "" {
		sources = append(sources, credential.Static(override))
	}
	if cfg.Token != "" {
		sources = append(sources, credential.Static(cfg.Token))
	}
	if cfg.TokenFile != "" {
		sources = append(sources, credential.File(cfg.TokenFile))
	}
	if cfg.TokenEnv != "" {
		sources = append(sources, credential.Env(cfg.TokenEnv))
	}
	src := credential.Chain(sources...)
	if cfg.RequireUnexpired {
		src = credential.RequireUnexpired(src)
	}
	return src
}

func openArchive(ctx context.Context, cfg ops.ArchiveConfig, metrics *obs.Metrics) (*conn.Client, *archive.Recorder, error) {
	db, err := conn.New(conn.Option{
		Driver:     conn.Driver(cfg.Driver),
		ConnString: cfg.DSN,
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := archive.NewStore(db.DB())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	recorder, err := archive.NewRecorder(store, cfg.QueueSize, metrics)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, recorder, nil
}

// supervise reconnects once the client has given up on automatic retries.
func supervise(ctx context.Context, client *notify.Client, subscriberID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.State() != notify.StateDisconnected {
				continue
			}
			if err := client.Connect(ctx, subscriberID); err != nil && ctx.Err() == nil {
				logs.Errorf("supervised connect, err: %+v", err)
			}
		}
	}
}

func logMetrics(ctx context.Context, metrics *obs.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Snapshot()
			logs.Infof(
				"metrics: frames=%v sends_ok=%d sends_rejected=%d connects=%d drops=%d reconnects=%d listener_panics=%d archive_drops=%d dispatch_avg=%s dispatch_max=%s",
				snap.FrameCounts,
				snap.SendsAccepted,
				snap.SendsRejected,
				snap.Connects,
				snap.Drops,
				snap.ReconnectAttempts,
				snap.ListenerPanics,
				snap.ArchiveDrops,
				snap.DispatchLatency.Avg,
				snap.DispatchLatency.Max,
			)
		}
	}
}

func startProfiler(cfg ops.ProfilerConfig) (*pyroscope.Profiler, error) {
	if cfg.ServerAddress == "" {
		log.Fatalf("profiling requested but profiler.serverAddress is empty")
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{}) {
	logs.Infof("pyroscope: "+format, args...)
}
func (profilerLogger) Debugf(_ string, _ ...interface{}) {}
func (profilerLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}
