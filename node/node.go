// Package node runs one process of a statically configured three-phase commit group.
package node

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/threepc/config"
	"github.com/vadiminshakov/threepc/core/coordinator"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fault"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/core/hooks"
	"github.com/vadiminshakov/threepc/core/participant"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/channel"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/server"
	"github.com/vadiminshakov/threepc/io/gateway/zmq"
	"github.com/vadiminshakov/threepc/io/metrics"
	"github.com/vadiminshakov/threepc/io/stablelog"
	"github.com/vadiminshakov/threepc/io/store"
	"golang.org/x/sync/errgroup"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "threepc"

type transport interface {
	group.Channel
	Close() error
}

type options struct {
	faults fault.Injector
}

type Option func(*options)

// WithFaultInjector replaces the coordinator crash injector built from
// conf.CrashProbability.
func WithFaultInjector(faults fault.Injector) Option {
	return func(o *options) {
		o.faults = faults
	}
}

// Run executes the configured role once and returns its outcome. The outcome is also
// persisted in the store at conf.DBPath.
func Run(ctx context.Context, conf *config.Config, opts ...Option) (dto.Outcome, error) {
	o := options{faults: fault.Random(conf.CrashProbability)}
	for _, opt := range opts {
		opt(&o)
	}

	roster, err := conf.Roster()
	if err != nil {
		return dto.Outcome{}, err
	}
	self := dto.ID(conf.ID)

	wal, err := gowal.NewWAL(stablelog.WALConfig(conf.WALDir, "stable_"))
	if err != nil {
		return dto.Outcome{}, errors.Wrap(err, "open stable log")
	}

	st, recovery, err := store.New(wal, conf.DBPath)
	if err != nil {
		_ = wal.Close()
		return dto.Outcome{}, err
	}
	defer st.Close()
	for key, state := range recovery.States {
		log.Infof("stable log: %s stopped in state %s", key, state)
	}

	sl := stablelog.New(wal)
	defer sl.Close()

	var m *metrics.Metrics
	g, gctx := errgroup.WithContext(ctx)
	if conf.MetricsAddr != "" {
		m = metrics.New(MetricsNamespace)
		srv := &http.Server{Addr: conf.MetricsAddr, Handler: m.Handler()}
		g.Go(func() error {
			log.Infof("serving metrics on http://%s/metrics", conf.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			if err := g.Wait(); err != nil {
				log.Error(err)
			}
		}()
	}

	ch, publish, err := openTransport(conf, self, roster)
	if err != nil {
		return dto.Outcome{}, err
	}
	defer ch.Close()

	var outcome dto.Outcome
	switch dto.Role(conf.Role) {
	case dto.RoleCoordinator:
		c := coordinator.New(ch, sl,
			coordinator.WithTimeout(conf.TimeoutDuration()),
			coordinator.WithFaultInjector(o.faults),
			coordinator.WithMetrics(m),
		)
		if err = c.Init(gctx); err != nil {
			return dto.Outcome{}, err
		}
		outcome, err = c.Run(gctx)
	default:
		hs := []hooks.Hook{
			hooks.NewRandomFailureHook(conf.WorkFailureProbability),
			hooks.NewAuditHook(self.String()),
		}
		if m != nil {
			hs = append(hs, hooks.NewMetricsHook(m))
		}

		p := participant.New(ch, sl,
			participant.WithTimeout(conf.TimeoutDuration()),
			participant.WithHooks(hs...),
			participant.WithMetrics(m),
		)
		if err = p.Init(gctx); err != nil {
			return dto.Outcome{}, err
		}
		outcome, err = p.Run(gctx)
	}
	if err != nil {
		return dto.Outcome{}, err
	}

	if err = st.PutOutcome(outcome); err != nil {
		log.Errorf("failed to persist outcome: %v", err)
	}
	publish(outcome)

	return outcome, nil
}

func openTransport(conf *config.Config, self dto.ID, roster group.Roster) (transport, func(dto.Outcome), error) {
	switch conf.Transport {
	case config.TransportZMQ:
		ch := zmq.New(self, roster)
		if err := ch.Start(); err != nil {
			return nil, nil, err
		}
		return ch, func(dto.Outcome) {}, nil
	default:
		srv := server.New(conf.ListenAddr(), server.WithWhitelist(conf.Whitelist...))
		if err := srv.Run(); err != nil {
			return nil, nil, err
		}
		return &grpcTransport{Channel: channel.New(self, roster, srv), server: srv}, srv.SetOutcome, nil
	}
}

type grpcTransport struct {
	*channel.Channel
	server *server.Server
}

func (t *grpcTransport) Close() error {
	err := t.Channel.Close()
	t.server.Stop()
	return err
}
