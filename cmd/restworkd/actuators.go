package main

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/restwork/config"
	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/ingress"
	"github.com/justapithecus/restwork/invocation"
	"github.com/justapithecus/restwork/invoker"
	"github.com/justapithecus/restwork/leadership"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/metrics"
	"github.com/justapithecus/restwork/outbox"
	"github.com/justapithecus/restwork/timer"
)

// staticResolver maps every service to the same configured endpoint. A
// real deployment would resolve per-service endpoints from a service
// registry; this worker has none, so one endpoint for all services is the
// whole of what cfg.Invoker currently models.
type staticResolver struct {
	endpoint string
}

func (r staticResolver) ResolveEndpoint(ids.ServiceID) (string, error) {
	if r.endpoint == "" {
		return "", fmt.Errorf("invoker: no service endpoint configured")
	}
	return r.endpoint, nil
}

// workerActuatorFactory is the production leadership.ActuatorFactory: it
// builds a real invoker.Handle, timer.Service, and outbox.Shipper for
// each newly elected leader epoch.
type workerActuatorFactory struct {
	partition  ids.PartitionID
	cfg        config.InvokerConfig
	outboxCfg  config.OutboxConfig
	ingressCfg config.IngressConfig
	endpoint   string
	logger     *logging.Logger
	metrics    *metrics.Collector
}

func (f *workerActuatorFactory) NewInvoker(ctx context.Context, epoch ids.LeaderEpoch) (leadership.InvokerHandle, error) {
	h := invoker.New(staticResolver{endpoint: f.endpoint}, nil, f.logger.WithEpoch(epoch), f.metrics)
	h.Configure(invocation.Config{
		RequestTimeout: f.cfg.RequestTimeout.Duration,
	})
	return h, nil
}

func (f *workerActuatorFactory) NewTimerService(ctx context.Context, epoch ids.LeaderEpoch) (leadership.TimerService, error) {
	return timer.New(), nil
}

func (f *workerActuatorFactory) NewShuffle(ctx context.Context, epoch ids.LeaderEpoch) (leadership.ShuffleHandle, error) {
	if f.outboxCfg.Bucket == "" {
		// No outbox destination configured: outbox messages accumulate in
		// storage only, which is a valid (if undelivered) configuration
		// for local development.
		return noopShuffle{}, nil
	}
	shipper, err := outbox.New(ctx, outbox.Config{
		Bucket:       f.outboxCfg.Bucket,
		Prefix:       f.outboxCfg.Prefix,
		Region:       f.outboxCfg.Region,
		Endpoint:     f.outboxCfg.Endpoint,
		UsePathStyle: f.outboxCfg.S3PathStyle,
		ZstdCompress: f.outboxCfg.ZstdCompress,
	}, f.partition, f.logger.Raw())
	if err != nil {
		return nil, fmt.Errorf("actuators: build outbox shipper: %w", err)
	}
	return shipper, nil
}

func (f *workerActuatorFactory) NewIngressNotifier(ctx context.Context, epoch ids.LeaderEpoch) (leadership.IngressNotifier, error) {
	if f.ingressCfg.URL == "" {
		// No ingress endpoint configured: invocation responses are
		// recorded in storage but never delivered anywhere, a valid
		// configuration when this worker is driven by something other
		// than an HTTP ingress (tests, batch replays).
		return noopNotifier{}, nil
	}
	n, err := ingress.New(ingress.Config{
		URL:     f.ingressCfg.URL,
		Headers: f.ingressCfg.Headers,
		Timeout: f.ingressCfg.Timeout.Duration,
		Retries: f.ingressCfg.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("actuators: build ingress notifier: %w", err)
	}
	return n, nil
}

type noopShuffle struct{}

func (noopShuffle) Ship(ctx context.Context, msg *envelope.EnqueueOutboxMessage) error { return nil }
func (noopShuffle) Shutdown(deadline time.Duration) error                             { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, resp *envelope.InvocationResponse) error { return nil }
func (noopNotifier) Shutdown(deadline time.Duration) error                              { return nil }
