package main

import (
	"log"
	"sync"

	"github.com/spf13/cobra"
	"github.com/swimctl/swimctl/internal/ops"
	"github.com/swimctl/swimctl/internal/runtime"
	"github.com/swimctl/swimctl/internal/scheduler"
	srv "github.com/swimctl/swimctl/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring and control HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sc := a.cfg.Server
			svc := ops.NewServiceController(sc.ServiceName)
			svc.Systemctl = sc.Systemctl
			e := srv.New(srv.Options{
				Health:  a.store,
				Service: svc,
				Host: &ops.HostCollector{
					DiskPath: sc.DiskPath,
					LogPath:  sc.LiveLogPath,
					Service:  svc,
				},
				ServiceName:      sc.ServiceName,
				ControlToken:     sc.ControlToken,
				ControlPerMinute: sc.ControlRatePerMinute,
				Registry:         a.tel.Registry,
			})

			// the scheduler must be idle before a.Close releases the store
			var wg sync.WaitGroup
			if a.cfg.Scheduler.Enabled {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := newScheduler(a).Run(ctx); err != nil {
						log.Printf("[ERROR] scheduler stopped: %v", err)
					}
				}()
			}

			addr := sc.Address
			if serveAddr != "" {
				addr = serveAddr
			}
			err = srv.Run(ctx, e, addr)
			stop()
			wg.Wait()
			return err
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}

func newScheduler(a *app) *scheduler.Scheduler {
	s := &scheduler.Scheduler{
		Cron:        a.cfg.Scheduler.Cron,
		Tick:        a.cfg.Scheduler.Tick,
		Job:         a.job(),
		LockTTL:     a.cfg.Scheduler.LockTTL,
		LastSuccess: a.lastSuccess,
	}
	if a.rdb != nil {
		s.Locker = a.rdb
	}
	return s
}

func scheduleCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run ingestion on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return newScheduler(a).Run(ctx)
		},
	}
}

func watchCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest whenever the feed document changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			w := &scheduler.Watcher{
				Path:     a.cfg.Feed.XMLPath,
				Debounce: a.cfg.Scheduler.Debounce,
				Job:      a.job(),
			}
			return w.Run(ctx)
		},
	}
}
