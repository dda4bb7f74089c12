package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/config"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
	"github.com/cdx-io/cdx/internal/logger"
	"github.com/cdx-io/cdx/internal/metrics"
	"github.com/cdx-io/cdx/internal/persistence/bulk"
)

// Service is the item-store facade. It is safe for concurrent use; all
// mutable state is the handler registries (copy-on-write), the bulk
// processor queue and the mapping cache.
type Service struct {
	log      *zap.Logger
	store    db.Store
	cfg      *config.Config
	router   *Router
	registry *item.Registry

	evaluators *condition.EvaluatorDispatcher
	builders   *condition.QueryBuilderDispatcher
	processor  *bulk.Processor

	mappingsMu sync.RWMutex
	mappings   map[string]*Mapping

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService wires the facade. Built-in condition handlers are registered;
// plug-ins add theirs through the dispatchers.
func NewService(log *zap.Logger, store db.Store, cfg *config.Config) (*Service, error) {
	s := &Service{
		log:        log.Named("persistence"),
		store:      store,
		cfg:        cfg,
		router:     NewRouter(&cfg.Index),
		registry:   item.NewRegistry(),
		evaluators: condition.NewEvaluatorDispatcher(),
		builders:   condition.NewQueryBuilderDispatcher(),
		mappings:   map[string]*Mapping{},
		stop:       make(chan struct{}),
	}
	builtin.Register(s.evaluators, s.builders)

	sizeBytes, err := bulk.ParseByteSize(cfg.BulkProcessor.BulkSize)
	if err != nil {
		return nil, fmt.Errorf("bulkProcessor.bulkSize: %w", err)
	}
	flushInterval, err := time.ParseDuration(cfg.BulkProcessor.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("bulkProcessor.flushInterval: %w", err)
	}
	backoff, err := bulk.ParseBackoff(cfg.BulkProcessor.BackoffPolicy)
	if err != nil {
		return nil, fmt.Errorf("bulkProcessor.backoffPolicy: %w", err)
	}
	s.processor = bulk.NewProcessor(log, store, bulk.Options{
		Name:               cfg.BulkProcessor.Name,
		BulkActions:        cfg.BulkProcessor.BulkActions,
		BulkSizeBytes:      sizeBytes,
		FlushInterval:      flushInterval,
		ConcurrentRequests: cfg.BulkProcessor.ConcurrentRequests,
		Backoff:            backoff,
	})
	return s, nil
}

// Router exposes the index resolution rules, mostly for tests and
// lifecycle tooling.
func (s *Service) Router() *Router { return s.router }

// Registry exposes the kind registry so plug-ins can add their item kinds.
func (s *Service) Registry() *item.Registry { return s.registry }

// Evaluators exposes the evaluator dispatcher for plug-in registration.
func (s *Service) Evaluators() *condition.EvaluatorDispatcher { return s.evaluators }

// QueryBuilders exposes the query-builder dispatcher for plug-in
// registration.
func (s *Service) QueryBuilders() *condition.QueryBuilderDispatcher { return s.builders }

// UnregisterAllFrom removes every condition handler a plug-in registered,
// on both dispatchers.
func (s *Service) UnregisterAllFrom(owner string) {
	s.evaluators.UnregisterAllFrom(owner)
	s.builders.UnregisterAllFrom(owner)
}

// Start initializes indices and mappings and launches the monthly-index
// scheduler.
func (s *Service) Start(ctx context.Context) error {
	if err := s.initIndices(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.monthlyScheduler()
	s.log.Info("persistence service started",
		zap.String("baseIndex", s.router.Base()),
		zap.Strings("monthlyKinds", s.cfg.Index.ItemsMonthlyIndexed))
	return nil
}

// Stop shuts the scheduler down and closes the bulk processor, flushing
// whatever is queued.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.processor.Close(ctx)
	s.log.Info("persistence service stopped")
}

// Refresh is the search-visibility barrier: it flushes the bulk queue and
// waits for in-flight batches. Writes are visible once it returns.
func (s *Service) Refresh(ctx context.Context) {
	s.processor.Flush(ctx)
}

// remote frames one engine round-trip: the component logger is bound to
// the context for the duration of the call and restored on every exit
// path, and the call is timed and counted.
func (s *Service) remote(ctx context.Context, op, kind string, fn func(ctx context.Context) error) error {
	start := time.Now()
	callCtx := logger.ContextWithLogger(ctx, s.log.With(zap.String("op", op)))
	err := fn(callCtx)

	metrics.QueryDuration.WithLabelValues(op, kind).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error("engine call failed",
			zap.String("op", op),
			zap.String("itemType", kind),
			zap.Error(err))
	}
	metrics.QueryTotal.WithLabelValues(op, kind, status).Inc()
	return err
}

// serialize renders an item to its stored JSON form, adding the companion
// attributes (date milliseconds, geo points) the index schemas rely on.
func (s *Service) serialize(it item.Item) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", it.ItemType(), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", it.ItemType(), err)
	}
	addCompanionFields(doc)
	return json.Marshal(doc)
}

// addCompanionFields walks the document and mirrors date-valued fields into
// <field>__ms epoch milliseconds and location objects into <field>__geo
// "lon,lat" strings, so they are indexable as NUMERIC and GEO attributes.
func addCompanionFields(doc map[string]any) {
	extra := map[string]any{}
	for name, value := range doc {
		switch v := value.(type) {
		case string:
			if looksLikeDate(v) {
				if t, err := item.ParseTime(v); err == nil {
					extra[name+"__ms"] = t.UnixMilli()
				}
			}
		case map[string]any:
			if lat, okLat := numberOf(v["lat"]); okLat {
				if lon, okLon := numberOf(v["lon"]); okLon {
					extra[name+"__geo"] = fmt.Sprintf("%g,%g", lon, lat)
					continue
				}
			}
			addCompanionFields(v)
		}
	}
	for k, v := range extra {
		doc[k] = v
	}
}

func looksLikeDate(s string) bool {
	if len(s) < 20 {
		return false
	}
	return s[4] == '-' && s[7] == '-' && s[10] == 'T'
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// deserialize decodes a stored document into a typed item via the kind
// registry, stripping the companion attributes.
func (s *Service) deserialize(kind string, data []byte) (item.Item, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", kind, err)
	}
	stripCompanionFields(doc)
	if kind == "" {
		kind, _ = doc["itemType"].(string)
	}
	clean, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return s.registry.Unmarshal(kind, clean)
}

func stripCompanionFields(doc map[string]any) {
	for name, value := range doc {
		if len(name) > 4 && (name[len(name)-4:] == "__ms" || name[len(name)-5:] == "__geo") {
			delete(doc, name)
			continue
		}
		if sub, ok := value.(map[string]any); ok {
			stripCompanionFields(sub)
		}
	}
}
