package solver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"auction-coordinator/internal/ratelimit"
)

// Endpoint is one registered solver: an HTTP address gated by its own
// rate limiter, matching the teacher's per-category resty client idiom
// in internal/exchange/client.go, generalized to one client per solver
// rather than one client per endpoint category.
type Endpoint struct {
	ID      string
	BaseURL string
	limiter *ratelimit.Limiter
	http    *resty.Client
}

// NewEndpoint builds a solver endpoint client.
func NewEndpoint(id, baseURL string, strategy ratelimit.Strategy) (*Endpoint, error) {
	limiter, err := ratelimit.New(id, strategy)
	if err != nil {
		return nil, fmt.Errorf("solver: endpoint %s: %w", id, err)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &Endpoint{ID: id, BaseURL: baseURL, limiter: limiter, http: client}, nil
}

// solveHTTPResult is what classify inspects to decide whether this
// attempt counts as a rate-limit event.
type solveHTTPResult struct {
	status int
	body   solveResponseDTO
}

// Solve issues POST /solve against this endpoint, wrapped in its rate
// limiter and the caller's deadline (spec §4.9: "wrapped in the solver's
// rate limiter and a per-solver timeout derived from the auction deadline
// minus a fixed scoring buffer").
func (e *Endpoint) Solve(ctx context.Context, req auctionDTO) (solveResponseDTO, error) {
	result, err := ratelimit.Execute(ctx, e.limiter, func(ctx context.Context) (solveHTTPResult, error) {
		var out solveResponseDTO
		resp, err := e.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/solve")
		if err != nil {
			return solveHTTPResult{status: 0}, err
		}
		return solveHTTPResult{status: resp.StatusCode(), body: out}, nil
	}, classifyRateLimited)

	if err != nil {
		return solveResponseDTO{}, err
	}
	if result.status != http.StatusOK {
		return solveResponseDTO{}, fmt.Errorf("solver %s: unexpected status %d", e.ID, result.status)
	}
	return result.body, nil
}

func classifyRateLimited(r solveHTTPResult, err error) bool {
	if err != nil {
		return false
	}
	return r.status == http.StatusTooManyRequests
}

// deadlineContext derives the per-solver timeout from the auction
// deadline minus a fixed scoring buffer (spec §4.9).
func deadlineContext(ctx context.Context, auctionDeadline time.Time, scoringBuffer time.Duration) (context.Context, context.CancelFunc) {
	return context.WithDeadline(ctx, auctionDeadline.Add(-scoringBuffer))
}
