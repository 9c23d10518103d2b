package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/circadianhq/circadian/internal/adapter/otel"
	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/decision"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/port/cache"
	"github.com/circadianhq/circadian/internal/port/modelbackend"
	"github.com/circadianhq/circadian/internal/port/store"
)

// Brain routes decision requests to model backends by tier. Every call
// passes the tier's rate limiter first; transient backend errors are
// retried with exponential backoff; exhausted retries degrade to a
// neutral default instead of an error, so a model outage never takes
// the activity loop down.
type Brain struct {
	account string
	cfg     config.Brain
	tiers   map[decision.Tier]tierRuntime
	cache   cache.Cache // nil disables score caching
	store   store.Store // nil disables usage persistence
	ledger  *usage.Ledger
	metrics *cotel.Metrics // nil disables instrumentation
	log     *slog.Logger
	now     func() time.Time // for testing
}

type tierRuntime struct {
	backend modelbackend.Backend
	cfg     config.Tier
	limiter *callLimiter
}

// NewBrain wires the three routing tiers to their configured backends.
// Every tier's backend must be present in backends.
func NewBrain(account string, cfg config.Brain, backends map[string]modelbackend.Backend, c cache.Cache, st store.Store, m *cotel.Metrics, log *slog.Logger) (*Brain, error) {
	tierCfg := map[decision.Tier]config.Tier{
		decision.TierFast:  cfg.Fast,
		decision.TierMid:   cfg.Mid,
		decision.TierSmart: cfg.Smart,
	}
	tiers := make(map[decision.Tier]tierRuntime, len(tierCfg))
	for tier, tc := range tierCfg {
		b, ok := backends[tc.Backend]
		if !ok {
			return nil, fmt.Errorf("%s tier: no %q backend registered", tier, tc.Backend)
		}
		tiers[tier] = tierRuntime{
			backend: b,
			cfg:     tc,
			limiter: newCallLimiter(cfg.CallsPerMinute, time.Minute),
		}
	}
	return &Brain{
		account: account,
		cfg:     cfg,
		tiers:   tiers,
		cache:   c,
		store:   st,
		ledger:  usage.NewLedger(),
		metrics: m,
		log:     log,
		now:     time.Now,
	}, nil
}

// Decide answers a decision request. It never returns an error: any
// failure path degrades to a neutral default with Succeeded=false so
// callers can proceed regardless.
func (b *Brain) Decide(ctx context.Context, req decision.Request) decision.Result {
	ctx, span := cotel.StartDecisionSpan(ctx, string(req.Tier), string(req.Kind))
	defer span.End()

	rt, ok := b.tiers[req.Tier]
	if !ok {
		b.log.Error("no runtime for tier", "account", b.account, "tier", req.Tier)
		return b.fallback(req)
	}

	if req.Kind == decision.KindScore {
		if res, hit := b.cachedScore(ctx, rt, req); hit {
			b.count(ctx, req, "cached")
			return res
		}
	}

	if err := rt.limiter.acquire(ctx); err != nil {
		b.log.Warn("tier limiter wait aborted", "account", b.account, "tier", req.Tier, "error", err)
		b.count(ctx, req, "aborted")
		return b.fallback(req)
	}

	breq := modelbackend.Request{
		Model:       rt.cfg.Model,
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   rt.cfg.MaxTokens,
		Temperature: rt.cfg.Temperature,
	}
	if req.MaxTokens > 0 {
		breq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		breq.Temperature = req.Temperature
	}

	start := time.Now()
	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*modelbackend.Response, error) {
		attempts++
		resp, err := rt.backend.Complete(ctx, breq)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithBackOff(b.newBackOff()), backoff.WithMaxTries(uint(b.cfg.MaxAttempts)))

	if b.metrics != nil {
		b.metrics.DecisionLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("tier", string(req.Tier))))
		if attempts > 1 {
			b.metrics.DecisionRetries.Add(ctx, int64(attempts-1),
				metric.WithAttributes(attribute.String("tier", string(req.Tier))))
		}
	}

	if err != nil {
		b.log.Warn("model call failed, serving neutral default",
			"account", b.account,
			"tier", req.Tier,
			"kind", req.Kind,
			"model", rt.cfg.Model,
			"attempts", attempts,
			"error", err)
		b.count(ctx, req, "fallback")
		return b.fallback(req)
	}

	res := decision.Result{
		Tier:      req.Tier,
		Kind:      req.Kind,
		Model:     rt.cfg.Model,
		Text:      strings.TrimSpace(resp.Text),
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Succeeded: true,
	}
	outcome := "ok"
	if req.Kind == decision.KindScore {
		score, parsed := parseScore(res.Text)
		if !parsed {
			b.log.Warn("unparsable score, serving neutral default",
				"account", b.account, "tier", req.Tier, "text", truncate(res.Text, 48))
			score = b.cfg.NeutralScore
			res.Succeeded = false
			outcome = "unparsable"
		}
		res.Score = score
	}

	b.recordUsage(ctx, rt.cfg.Model, resp)
	b.count(ctx, req, outcome)

	if req.Kind == decision.KindScore && res.Succeeded {
		b.cacheScore(ctx, req, res.Score)
	}
	return res
}

// UsageToday returns today's per-model usage accumulated in memory.
func (b *Brain) UsageToday() []usage.Record {
	return b.ledger.Day(b.now())
}

// RestoreUsage folds persisted records into the in-memory ledger so the
// live view survives a restart.
func (b *Brain) RestoreUsage(recs []usage.Record) {
	b.ledger.Merge(recs)
}

// fallback is the graceful-degradation result: neutral score, empty
// text, Succeeded false.
func (b *Brain) fallback(req decision.Request) decision.Result {
	res := decision.Result{Tier: req.Tier, Kind: req.Kind}
	if req.Kind == decision.KindScore {
		res.Score = b.cfg.NeutralScore
	}
	return res
}

func (b *Brain) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.RetryBase
	return bo
}

func (b *Brain) cachedScore(ctx context.Context, rt tierRuntime, req decision.Request) (decision.Result, bool) {
	if b.cache == nil {
		return decision.Result{}, false
	}
	val, ok, err := b.cache.Get(ctx, scoreCacheKey(req))
	if err != nil {
		b.log.Debug("score cache read", "account", b.account, "error", err)
		return decision.Result{}, false
	}
	if !ok {
		return decision.Result{}, false
	}
	score, err := strconv.Atoi(string(val))
	if err != nil {
		return decision.Result{}, false
	}
	return decision.Result{
		Tier:      req.Tier,
		Kind:      req.Kind,
		Model:     rt.cfg.Model,
		Score:     score,
		Succeeded: true,
		Cached:    true,
	}, true
}

func (b *Brain) cacheScore(ctx context.Context, req decision.Request, score int) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Set(ctx, scoreCacheKey(req), []byte(strconv.Itoa(score)), b.cfg.CacheTTL); err != nil {
		b.log.Debug("score cache write", "account", b.account, "error", err)
	}
}

func (b *Brain) recordUsage(ctx context.Context, model string, resp *modelbackend.Response) {
	now := b.now()
	b.ledger.Add(now, model, resp.TokensIn, resp.TokensOut)

	if b.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("model", model))
		b.metrics.TokensIn.Add(ctx, resp.TokensIn, attrs)
		b.metrics.TokensOut.Add(ctx, resp.TokensOut, attrs)
	}

	if b.store == nil {
		return
	}
	rec := usage.Record{
		Day:       now.Format(usage.DayFormat),
		Model:     model,
		Calls:     1,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	}
	if err := b.store.RecordUsage(ctx, b.account, rec); err != nil {
		b.log.Warn("record usage", "account", b.account, "model", model, "error", err)
	}
}

func (b *Brain) count(ctx context.Context, req decision.Request, outcome string) {
	if b.metrics == nil {
		return
	}
	b.metrics.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(req.Tier)),
		attribute.String("kind", string(req.Kind)),
		attribute.String("outcome", outcome),
	))
}

func retryable(err error) bool {
	return errors.Is(err, modelbackend.ErrRateLimited) || errors.Is(err, modelbackend.ErrServerUnavailable)
}

// parseScore extracts the first integer from s and clamps it to
// [0,100].
func parseScore(s string) (int, bool) {
	start := -1
	for i := range len(s) {
		if s[i] >= '0' && s[i] <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, false
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func scoreCacheKey(req decision.Request) string {
	h := fnv.New64a()
	_, _ = io.WriteString(h, req.System)
	_, _ = io.WriteString(h, "\x00")
	_, _ = io.WriteString(h, req.Prompt)
	return fmt.Sprintf("score:%s:%016x", req.Tier, h.Sum64())
}
