package stp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianbank/transferauth/internal/metrics"
	"github.com/shopspring/decimal"
)

// DefaultRuleCacheTTL is how long rules are cached before re-fetching.
const DefaultRuleCacheTTL = 30 * time.Second

// ruleCacheEntry holds cached rules for an entity type. The slice is sorted
// when the entry is filled and is read-only from then on: concurrent
// Evaluate calls share it.
type ruleCacheEntry struct {
	rules     []*Rule
	fetchedAt time.Time
}

// Evaluator decides whether a transfer may bypass manual review. Rules are
// read-mostly, so they are cached per entity type with a short TTL.
type Evaluator struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*ruleCacheEntry
}

// NewEvaluator creates a rule evaluator with the default cache TTL.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store:    store,
		cacheTTL: DefaultRuleCacheTTL,
		cache:    make(map[string]*ruleCacheEntry),
	}
}

// WithCacheTTL overrides the default rule cache TTL.
func (e *Evaluator) WithCacheTTL(ttl time.Duration) *Evaluator {
	e.cacheTTL = ttl
	return e
}

// InvalidateCache removes cached rules for an entity type. Call after rule
// CRUD operations.
func (e *Evaluator) InvalidateCache(entityType string) {
	e.mu.Lock()
	delete(e.cache, entityType)
	e.mu.Unlock()
}

// cachedList returns sorted rules from cache if fresh, otherwise fetches
// from the store. Sorting happens once here, before the slice is shared.
func (e *Evaluator) cachedList(ctx context.Context, entityType string) ([]*Rule, error) {
	now := time.Now()

	e.mu.RLock()
	entry, ok := e.cache[entityType]
	if ok && now.Sub(entry.fetchedAt) < e.cacheTTL {
		e.mu.RUnlock()
		return entry.rules, nil
	}
	e.mu.RUnlock()

	rules, err := e.store.List(ctx, entityType)
	if err != nil {
		return nil, err
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})

	e.mu.Lock()
	e.cache[entityType] = &ruleCacheEntry{rules: rules, fetchedAt: now}
	e.mu.Unlock()

	return rules, nil
}

// Evaluate runs the active rules for an entity type against the request
// attributes. First match in descending-priority order wins. No match, or a
// store failure, yields REQUIRE_REVIEW: the evaluator fails safe toward
// manual review, never toward auto-approval.
func (e *Evaluator) Evaluate(ctx context.Context, entityType string, attrs Attributes) (*Outcome, error) {
	review := &Outcome{Action: ActionRequireReview}

	rules, err := e.cachedList(ctx, entityType)
	if err != nil {
		metrics.STPEvaluationsTotal.WithLabelValues("error").Inc()
		return review, err
	}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		if matches(r.Condition, attrs) {
			metrics.STPEvaluationsTotal.WithLabelValues(string(r.Action)).Inc()
			return &Outcome{Action: r.Action, MatchedRule: r}, nil
		}
	}

	metrics.STPEvaluationsTotal.WithLabelValues("no_match").Inc()
	return review, nil
}

// matches evaluates a single condition. Malformed params never match: a
// broken rule must not grant straight-through processing.
func matches(c Condition, attrs Attributes) bool {
	switch c.Type {
	case "amount_below":
		var p AmountBelowParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return false
		}
		max, err := decimal.NewFromString(p.Max)
		if err != nil {
			return false
		}
		return attrs.Amount.LessThan(max)
	case "currency_in":
		var p CurrencyListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return false
		}
		return containsFold(p.Currencies, attrs.Currency)
	case "destination_in":
		var p DestinationListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return false
		}
		return contains(p.Destinations, attrs.Destination)
	case "risk_at_most":
		var p MaxRiskParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return false
		}
		return attrs.RiskScore <= p.Max
	case "requester_in":
		var p RequesterListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return false
		}
		return contains(p.Requesters, attrs.RequesterID)
	default:
		return false
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
