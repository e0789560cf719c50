package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/kernelbus"
)

var (
	pingAddress = kernelbus.MustAddress("demo.ping")
	pongAddress = kernelbus.MustAddress("demo.pong")
)

// App owns the pipeline, the two demo services and the HTTP servers.
type App struct {
	cfg      *kernelbus.Config
	logger   kernelbus.ServiceLogger
	interval time.Duration

	pipeline *kernelbus.Pipeline
	ping     *kernelbus.Service
	pong     *kernelbus.Service
	servers  []*http.Server
}

func NewApp(cfg *kernelbus.Config, logger kernelbus.ServiceLogger, interval time.Duration) (*App, error) {
	p, err := kernelbus.NewPipeline(cfg, logger, kernelbus.PipelineDependencies{
		Catalog: demoCatalog(),
		Hooks: kernelbus.AlertingHooks(func(dc kernelbus.DeliveryContext, err error) {
			logger.Error("Demo delivery failed", err, kernelbus.LogFields{"recipient": dc.Recipient.Name()})
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		interval: interval,
		pipeline: p,
		ping:     kernelbus.NewService(pingAddress),
		pong:     kernelbus.NewService(pongAddress),
	}
	if err := a.initServices(); err != nil {
		_ = p.Close()
		return nil, err
	}
	a.initHTTPServers()
	return a, nil
}

func (a *App) initServices() error {
	for _, svc := range []*kernelbus.Service{a.ping, a.pong} {
		if err := svc.Attach(a.pipeline); err != nil {
			return fmt.Errorf("attach %s: %w", svc.Address(), err)
		}
	}
	return kernelbus.HandleFunc(a.pong.Assistant(), func(ctx context.Context, req kernelbus.Request[Ping]) error {
		_, err := req.Reply(ctx, Pong{Seq: req.Body.Seq})
		return err
	})
}

func (a *App) initHTTPServers() {
	if a.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.servers = append(a.servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	if a.cfg.IntrospectionEnabled {
		a.servers = append(a.servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.IntrospectionPort),
			Handler:           a.pipeline.IntrospectionHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
}

// Run blocks until ctx is cancelled or one of the workers fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			a.logger.Info("HTTP server starting", kernelbus.LogFields{"addr": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), 5*time.Second)
		defer cancel()
		for _, srv := range a.servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	g.Go(func() error {
		return a.runDemo(gCtx)
	})

	return g.Wait()
}

func (a *App) runDemo(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		started := time.Now()
		future, err := a.ping.Request(ctx, pongAddress, Ping{Seq: seq})
		if err != nil {
			return fmt.Errorf("send ping: %w", err)
		}

		waitCtx, cancel := context.WithTimeout(ctx, a.interval)
		reply, err := kernelbus.AwaitReply[Pong](waitCtx, future)
		cancel()
		if err != nil {
			future.Cancel()
			a.logger.Error("Ping unanswered", err, kernelbus.LogFields{"seq": seq})
			continue
		}
		a.logger.Info("Pong received", kernelbus.LogFields{
			"seq":        reply.Seq,
			"round_trip": time.Since(started).String(),
		})
	}
}

func (a *App) Close() {
	_ = a.ping.Detach()
	_ = a.pong.Detach()
	_ = a.pipeline.Close()
}
