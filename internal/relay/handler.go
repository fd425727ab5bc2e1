package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quoterelay/quoterelay/internal/aggregate"
	"github.com/quoterelay/quoterelay/internal/nostr"
)

const (
	supportedPair   = "BTC-USD"
	defaultMaxAgeMs = 20000
	futureSkew      = 15 * time.Minute
)

func tooFarInFuture(createdAt int64) bool {
	return createdAt > time.Now().Add(futureSkew).Unix()
}

type requestParams struct {
	Pair     string
	Method   aggregate.Method
	Sources  []string
	MaxAgeMs int64
}

// parseRequest extracts the quote parameters from the request content.
// Parsing is best-effort: malformed content or missing fields fall back
// to defaults rather than failing the request.
func (s *Server) parseRequest(content string) requestParams {
	var raw struct {
		Pair     *string  `json:"pair"`
		Method   *string  `json:"method"`
		Sources  []string `json:"sources"`
		MaxAgeMs *int64   `json:"maxAgeMs"`
	}
	_ = json.Unmarshal([]byte(content), &raw)

	p := requestParams{
		Pair:     supportedPair,
		Method:   aggregate.TrimmedMean,
		MaxAgeMs: defaultMaxAgeMs,
	}
	if raw.Pair != nil && *raw.Pair != "" {
		p.Pair = *raw.Pair
	}
	if raw.Method != nil {
		p.Method = aggregate.ParseMethod(*raw.Method)
	}
	p.Sources = raw.Sources
	if raw.MaxAgeMs != nil {
		p.MaxAgeMs = *raw.MaxAgeMs
	}
	if p.MaxAgeMs < 0 {
		p.MaxAgeMs = 0
	}
	if p.MaxAgeMs > s.cfg.MaxRequestAgeMs {
		p.MaxAgeMs = s.cfg.MaxRequestAgeMs
	}
	return p
}

type quorumError struct {
	Need int
	Got  int
}

func (e *quorumError) Error() string {
	return fmt.Sprintf("insufficient quorum: need %d, got %d", e.Need, e.Got)
}

// handlePriceRequest orchestrates one accepted kind-38000 event through
// cache, fan-out, quorum, and aggregation, ending in exactly one signed
// terminal event.
func (s *Server) handlePriceRequest(req *nostr.Event) {
	ctx := context.Background()
	p := s.parseRequest(req.Content)

	if p.Pair != supportedPair {
		s.metrics.IncRequest("unsupported_pair")
		s.emitError(req, p.Pair, map[string]interface{}{
			"error": "unsupported pair",
			"pair":  p.Pair,
		})
		return
	}

	if entry, ageMs, err := s.cache.Get(ctx, p.Pair); err == nil && ageMs <= p.MaxAgeMs {
		s.metrics.IncCacheHit()
		s.metrics.IncRequest("ok")
		s.respond(req, p, entry.Samples, true, ageMs)
		return
	}
	s.metrics.IncCacheMiss()

	names := s.fetcher.FilterRecognized(p.Sources)
	if len(names) == 0 {
		names = s.fetcher.SourceNames()
	}

	samples, shared, err := s.flight.Do(ctx, p.Pair, func() ([]aggregate.Sample, error) {
		samples := s.fetcher.FetchAll(ctx, names)
		if len(samples) < s.cfg.MinQuorum {
			return nil, &quorumError{Need: s.cfg.MinQuorum, Got: len(samples)}
		}
		if err := s.cache.Set(ctx, p.Pair, samples); err != nil {
			s.logger.Warn().Err(err).Msg("cache write failed")
		}
		return samples, nil
	})
	if shared {
		s.metrics.IncCoalesced()
	}
	if err != nil {
		var qe *quorumError
		if errors.As(err, &qe) {
			s.metrics.IncRequest("quorum_failure")
			s.emitError(req, p.Pair, map[string]interface{}{
				"error":             "insufficient quorum",
				"need":              qe.Need,
				"got":               qe.Got,
				"sources_requested": names,
			})
			return
		}
		s.metrics.IncRequest("internal_error")
		s.logger.Error().Err(err).Str("req", req.ID).Msg("price orchestration failed")
		s.emitError(req, p.Pair, map[string]interface{}{"error": "internal error"})
		return
	}

	s.metrics.IncRequest("ok")
	s.respond(req, p, samples, false, 0)
}

type cacheInfo struct {
	Hit   bool  `json:"hit"`
	AgeMs int64 `json:"ageMs"`
}

type responseContent struct {
	Pair        string             `json:"pair"`
	Ts          int64              `json:"ts"`
	Value       float64            `json:"value"`
	Method      aggregate.Method   `json:"method"`
	SourcesUsed []string           `json:"sources_used"`
	Samples     []aggregate.Sample `json:"samples"`
	Cache       cacheInfo          `json:"cache"`
}

func (s *Server) respond(req *nostr.Event, p requestParams, samples []aggregate.Sample, cacheHit bool, ageMs int64) {
	value, effective, used := aggregate.Aggregate(samples, p.Method)

	sourcesUsed := make([]string, len(used))
	tags := [][]string{
		{"e", req.ID, "reply"},
		{"p", req.PubKey},
		{"t", "price"},
		{"pair", p.Pair},
	}
	for i, sample := range used {
		sourcesUsed[i] = sample.Source
		tags = append(tags, []string{"src", sample.Source})
	}

	content, err := json.Marshal(responseContent{
		Pair:        p.Pair,
		Ts:          time.Now().UnixMilli(),
		Value:       value,
		Method:      effective,
		SourcesUsed: sourcesUsed,
		Samples:     used,
		Cache:       cacheInfo{Hit: cacheHit, AgeMs: ageMs},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("req", req.ID).Msg("marshal response content")
		return
	}
	s.emit(req, nostr.KindPriceResponse, tags, string(content))
}

func (s *Server) emitError(req *nostr.Event, pair string, payload map[string]interface{}) {
	content, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("req", req.ID).Msg("marshal error content")
		return
	}
	tags := [][]string{
		{"e", req.ID, "reply"},
		{"p", req.PubKey},
		{"t", "price-error"},
		{"pair", pair},
	}
	s.emit(req, nostr.KindPriceError, tags, string(content))
}

// emit signs, stores, and broadcasts a terminal event. Signing failure
// is fatal for the request: it is logged and nothing is sent.
func (s *Server) emit(req *nostr.Event, kind int, tags [][]string, content string) {
	evt, err := s.signer.Sign(kind, tags, content)
	if err != nil {
		s.logger.Error().Err(err).Str("req", req.ID).Msg("sign terminal event")
		return
	}
	s.store.Add(evt)
	s.metrics.IncAccepted()
	s.hub.broadcast(nostr.EventFrame(evt))
}
