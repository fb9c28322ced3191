package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"finpath-insight/internal/indicators"
	"finpath-insight/internal/market"
	"finpath-insight/internal/service"
	"finpath-insight/internal/version"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind              string          `json:"kind"`
	Message           string          `json:"message"`
	RetryAfterSeconds *int            `json:"retryAfterSeconds,omitempty"`
	Attempts          []attemptDetail `json:"attempts,omitempty"`
}

type attemptDetail struct {
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}

type healthBody struct {
	Status string       `json:"status"`
	Build  version.Info `json:"build"`
}

type indicatorsBody struct {
	Key         string             `json:"key"`
	Period      string             `json:"period"`
	CacheStatus market.CacheStatus `json:"cacheStatus"`
	FetchedAt   time.Time          `json:"fetchedAt"`
	Indicators  indicators.Summary `json:"indicators"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Build: version.Get()})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	dt, err := market.ParseDataType(chi.URLParam(r, "dataType"))
	if err != nil {
		s.writeError(w, &service.Error{Kind: service.KindInvalidRequest, Message: err.Error()})
		return
	}
	s.serve(w, r, dt, chi.URLParam(r, "key"))
}

func (s *Server) handleGeneralNews(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, market.News, "")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, dt market.DataType, key string) {
	req, err := buildRequest(r, dt, key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.orch.Handle(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	setResponseHeaders(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	req, err := buildRequest(r, market.History, chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.orch.Handle(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var bars []market.Bar
	if resp.Payload.Has(market.FieldBars) {
		if err := resp.Payload.Decode(market.FieldBars, &bars); err != nil {
			s.log.Error().Err(err).Str("key", resp.Key).Msg("cached history payload is malformed")
			s.writeError(w, err)
			return
		}
	}

	setResponseHeaders(w, resp)
	writeJSON(w, http.StatusOK, indicatorsBody{
		Key:         resp.Key,
		Period:      req.Params.Normalize(market.History).Period,
		CacheStatus: resp.CacheStatus,
		FetchedAt:   resp.FetchedAt,
		Indicators:  indicators.Summarize(bars),
	})
}

// buildRequest reads identity, tier and query parameters.
func buildRequest(r *http.Request, dt market.DataType, key string) (market.Request, error) {
	identity := r.Header.Get(HeaderUserID)
	if identity == "" {
		return market.Request{}, &service.Error{Kind: service.KindInvalidRequest, Message: HeaderUserID + " header is required"}
	}
	tier, err := market.ParseTier(r.Header.Get(HeaderUserTier))
	if err != nil {
		return market.Request{}, &service.Error{Kind: service.KindInvalidRequest, Message: err.Error()}
	}

	params := market.Params{Period: r.URL.Query().Get("period")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return market.Request{}, &service.Error{Kind: service.KindInvalidRequest, Message: "limit must be a non-negative integer"}
		}
		params.Limit = limit
	}

	return market.Request{DataType: dt, Key: key, Identity: identity, Tier: tier, Params: params}, nil
}

func setResponseHeaders(w http.ResponseWriter, resp market.Response) {
	w.Header().Set(HeaderCacheStatus, string(resp.CacheStatus))
	if resp.RateLimit != nil {
		w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(resp.RateLimit.Limit))
		w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(resp.RateLimit.Remaining))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		s.log.Error().Err(err).Msg("unexpected handler error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "internal", Message: "internal error"}})
		return
	}

	detail := errorDetail{Kind: string(svcErr.Kind), Message: svcErr.Message}
	status := http.StatusInternalServerError
	switch svcErr.Kind {
	case service.KindInvalidRequest:
		status = http.StatusBadRequest
	case service.KindRateLimitExceeded:
		status = http.StatusTooManyRequests
		secs := int(math.Ceil(svcErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		detail.RetryAfterSeconds = &secs
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(secs))
		w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(svcErr.Limit))
		w.Header().Set(HeaderRateLimitRemaining, "0")
	case service.KindAllProvidersFailed:
		status = http.StatusBadGateway
		for _, a := range svcErr.Attempts {
			ad := attemptDetail{Provider: a.Provider}
			if a.Err != nil {
				ad.Error = a.Err.Error()
			}
			detail.Attempts = append(detail.Attempts, ad)
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
