// Package worker assembles the sender process: the job dispatcher with the
// delivery executor behind it, plus a small HTTP listener for metrics.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mutter0815/MailScheduler/internal/delivery"
	"github.com/Mutter0815/MailScheduler/internal/mailer"
	"github.com/Mutter0815/MailScheduler/internal/scheduler"
	"github.com/Mutter0815/MailScheduler/pkg/config"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

// Store is what the worker needs from persistence: the job queue and the
// email status updates. *store.Store satisfies it.
type Store interface {
	scheduler.Queue
	delivery.Store
}

type Deps struct {
	Store     Store
	Quota     delivery.Quota
	Transport mailer.Transport
	// Events is optional; nil disables delivery events.
	Events scheduler.EventPublisher
}

type Worker struct {
	Dispatcher  *scheduler.Dispatcher
	MetricsAddr string
	log         *zap.SugaredLogger
}

// leaseMargin is the headroom a claimed job keeps over its send timeout for
// the quota check and status writes.
const leaseMargin = 30 * time.Second

// jobLease is the base lease handed to the queue. It never drops below the
// send timeout plus leaseMargin; the queue adds each job's pause on top.
func jobLease(cfg config.WorkerConfig) time.Duration {
	send := cfg.SendTimeout
	if send <= 0 {
		send = 30 * time.Second
	}
	if floor := send + leaseMargin; cfg.JobLease < floor {
		return floor
	}
	return cfg.JobLease
}

func New(cfg config.WorkerConfig, deps Deps) *Worker {
	log := logx.Named("worker")

	lease := jobLease(cfg)
	if lease != cfg.JobLease {
		log.Warnw("job_lease_raised", "configured", cfg.JobLease.String(), "lease", lease.String())
	}

	var execOpts []delivery.Option
	if cfg.SendTimeout > 0 {
		execOpts = append(execOpts, delivery.WithSendTimeout(cfg.SendTimeout))
	}
	exec := delivery.NewExecutor(deps.Store, deps.Quota, deps.Transport, execOpts...)

	policy := scheduler.DefaultPolicy()
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}

	opts := []scheduler.Option{}
	if deps.Events != nil {
		opts = append(opts, scheduler.WithEvents(deps.Events))
	}
	d := scheduler.New(deps.Store, exec, scheduler.Config{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Lease:        lease,
		Policy:       policy,
	}, opts...)

	addr := ""
	if cfg.MetricsPort != "" {
		addr = ":" + cfg.MetricsPort
	}
	return &Worker{Dispatcher: d, MetricsAddr: addr, log: log}
}

func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

// Run blocks until ctx is cancelled or a component fails. In-flight jobs are
// finished before it returns.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Dispatcher.Run(gctx)
	})

	if w.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              w.MetricsAddr,
			Handler:           w.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			w.log.Infow("metrics_listen_start", "addr", w.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
