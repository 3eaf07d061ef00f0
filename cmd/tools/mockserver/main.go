package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carenotify/internal/chaos"
	"carenotify/internal/model"
	"carenotify/internal/simulator"

	"github.com/yanun0323/logs"
)

var titles = []string{
	"Lab results available",
	"Appointment reminder",
	"Prescription ready for pickup",
	"New message from your care team",
	"Billing statement issued",
}

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	token := flag.String("token", "", "Expected token; empty accepts any non-empty token")
	interval := flag.Duration("interval", 10*time.Second, "Publish interval per connected subscriber, 0 disables")
	pageSize := flag.Int("page-size", 10, "REST page size")
	seed := flag.Int64("seed", 0, "Chaos seed, 0 uses time")
	drop := flag.Float64("drop", 0, "Drop probability for pushed frames")
	dup := flag.Float64("dup", 0, "Duplicate probability for pushed frames")
	reorder := flag.Int("reorder", 1, "Reorder window size for pushed frames")
	maxDelay := flag.Duration("max-delay", 0, "Max random delay per pushed frame")
	disconnect := flag.Float64("disconnect", 0, "Probability of cutting the socket after a push")
	flag.Parse()

	chaosCfg := chaos.Config{
		Seed:           *seed,
		DropRate:       *drop,
		DuplicateRate:  *dup,
		ReorderWindow:  *reorder,
		MaxDelay:       *maxDelay,
		DisconnectRate: *disconnect,
	}
	if chaosCfg.Enabled() {
		if _, err := chaos.NewEngine(chaosCfg); err != nil {
			log.Fatalf("chaos init failed: %v", err)
		}
	}

	sim := simulator.New(simulator.Config{
		Token:    *token,
		Chaos:    chaosCfg,
		PageSize: *pageSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           sim,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logs.Infof("mockserver listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	if *interval > 0 {
		go publishLoop(ctx, sim, *interval)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sim.DropConnections("")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("shutdown, err: %+v", err)
	}
}

func publishLoop(ctx context.Context, sim *simulator.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, recipient := range sim.Recipients() {
				seq++
				n := sim.Publish(recipient, model.Notification{
					Title:    titles[seq%len(titles)],
					Content:  fmt.Sprintf("synthetic notification #%d", seq),
					IsUrgent: seq%4 == 0,
					Service:  "mockserver",
				})
				logs.Infof("published %d to %s", n.ID, recipient)
			}
		}
	}
}
