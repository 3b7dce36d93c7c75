package sqs

import (
	"context"
	stderr "errors"
	"sync"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/internal/status"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pluginName string = "sqs"

type Configurer interface {
	// UnmarshalKey takes a single key and unmarshal it into a Struct.
	UnmarshalKey(name string, out any) error
	// Has checks if config section exists.
	Has(name string) bool
}

type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// JobHandler is collected from the container and bound to its job class.
type JobHandler interface {
	JobClass() string
	Handle(ctx context.Context, job *sqsjobs.Job) error
}

// Tracer provides the tracer provider used for fetch and dispatch spans.
type Tracer interface {
	Tracer() trace.TracerProvider
}

// Config is the "sqs" section.
type Config struct {
	sqsjobs.Config `yaml:",inline"`

	Status status.Config `yaml:"status"`
}

type Plugin struct {
	mu sync.RWMutex

	log      *zap.Logger
	cfg      *Config
	handlers map[string]sqsjobs.Handler
	tracer   trace.TracerProvider

	dispatcher *sqsjobs.Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}

	// queue replaces the AWS client, set in tests
	queue sqsjobs.Queue
}

func (p *Plugin) Init(log Logger, cfg Configurer) error {
	const op = errors.Op("sqs_plugin_init")

	if !cfg.Has(pluginName) {
		return errors.E(op, errors.Disabled)
	}

	conf := &Config{}
	if err := cfg.UnmarshalKey(pluginName, conf); err != nil {
		return errors.E(op, err)
	}

	conf.InitDefault()
	if err := conf.Validate(); err != nil {
		return errors.E(op, err)
	}

	p.cfg = conf
	p.log = log.NamedLogger(pluginName)
	p.handlers = make(map[string]sqsjobs.Handler)
	p.done = make(chan struct{})

	return nil
}

// Register binds h to a job class. Handlers registered after Serve are not picked up.
func (p *Plugin) Register(class string, h sqsjobs.Handler) {
	p.mu.Lock()
	p.handlers[class] = h
	p.mu.Unlock()
}

func (p *Plugin) Serve() chan error {
	const op = errors.Op("sqs_plugin_serve")
	errCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())

	queue := p.queue
	var client *sqsjobs.Client
	if queue == nil {
		var err error
		client, err = sqsjobs.NewClient(ctx, &p.cfg.Config, p.log)
		if err != nil {
			cancel()
			errCh <- errors.E(op, err)
			return errCh
		}
		queue = client
	}

	opts := make([]sqsjobs.Option, 0, 1)
	p.mu.RLock()
	if p.tracer != nil {
		opts = append(opts, sqsjobs.WithTracerProvider(p.tracer))
	}
	p.mu.RUnlock()

	d, err := sqsjobs.NewDispatcher(queue, &p.cfg.Config, p.log, opts...)
	if err != nil {
		cancel()
		errCh <- errors.E(op, err)
		return errCh
	}

	p.mu.Lock()
	for class, h := range p.handlers {
		d.Register(class, h)
	}
	p.dispatcher = d
	p.cancel = cancel
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.Start(gctx)
		// a drained queue also stops the status server
		cancel()
		return err
	})

	if p.cfg.Status.Address != "" && client != nil {
		srv := status.New(p.cfg.Status, d, client, p.log.Named("status"))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	go func() {
		defer close(p.done)
		err := g.Wait()
		if err != nil && !stderr.Is(err, context.Canceled) {
			errCh <- errors.E(op, err)
			return
		}
		p.log.Info("sqs dispatcher stopped", zap.Any("stats", d.Stats()))
	}()

	return errCh
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enabled reports whether Init found an sqs section. A disabled plugin is never served.
func (p *Plugin) Enabled() bool {
	return p.cfg != nil
}

// Done is closed when the dispatcher run is over, e.g. a drained queue in deplete mode.
func (p *Plugin) Done() <-chan struct{} {
	return p.done
}

// Stats of the running dispatcher, zero before Serve.
func (p *Plugin) Stats() sqsjobs.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dispatcher == nil {
		return sqsjobs.Stats{}
	}

	return p.dispatcher.Stats()
}

func (p *Plugin) Collects() []*dep.In {
	return []*dep.In{
		dep.Fits(func(pp any) {
			h := pp.(JobHandler)
			p.Register(h.JobClass(), h.Handle)
		}, (*JobHandler)(nil)),
		dep.Fits(func(pp any) {
			p.mu.Lock()
			p.tracer = pp.(Tracer).Tracer()
			p.mu.Unlock()
		}, (*Tracer)(nil)),
	}
}

func (p *Plugin) Name() string {
	return pluginName
}
