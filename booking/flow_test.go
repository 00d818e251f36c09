package booking

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/types"
)

type scriptedAPI struct {
	startStep *types.BookingStep
	startErr  error

	advances     map[string]*types.BookingAdvance
	advanceErr   error
	advanceCalls int

	searchResult *types.BookingSearchResult
	searchErr    error
	searchCalls  int
	lastSearch   *types.BookingSearch
}

func (a *scriptedAPI) BookingStart(ctx context.Context) (*types.BookingStep, error) {
	return a.startStep, a.startErr
}

func (a *scriptedAPI) BookingAdvance(ctx context.Context, stepID string, answer *types.BookingAnswer) (*types.BookingAdvance, error) {
	a.advanceCalls++
	if a.advanceErr != nil {
		return nil, a.advanceErr
	}
	return a.advances[stepID], nil
}

func (a *scriptedAPI) BookingSearch(ctx context.Context, search *types.BookingSearch) (*types.BookingSearchResult, error) {
	a.searchCalls++
	a.lastSearch = search
	return a.searchResult, a.searchErr
}

func newTestFlow(t *testing.T, api *scriptedAPI) (*Flow, types.CacheManager) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	c, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{
		DefaultFreshFor:  time.Minute,
		DefaultRetainFor: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}

	return NewFlow(log, api, c), c
}

func TestCurrentBeforeStart(t *testing.T) {
	flow, _ := newTestFlow(t, &scriptedAPI{})

	if _, err := flow.Current(); !types.IsError(err, types.ErrBookingNotStarted) {
		t.Fatalf("expected ErrBookingNotStarted, got %v", err)
	}
	if _, err := flow.Advance(context.Background(), &types.BookingAnswer{Text: "x"}); !types.IsError(err, types.ErrBookingNotStarted) {
		t.Fatalf("expected ErrBookingNotStarted, got %v", err)
	}
}

func TestAnswerValidationBlocksRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		step   *types.BookingStep
		answer *types.BookingAnswer
	}{
		{"nil answer", &types.BookingStep{ID: "s1", Input: types.InputText}, nil},
		{"empty text", &types.BookingStep{ID: "s1", Input: types.InputText}, &types.BookingAnswer{}},
		{"bad date", &types.BookingStep{ID: "s1", Input: types.InputDateRange},
			&types.BookingAnswer{DateFrom: "not-a-date", DateTo: "2026-09-01"}},
		{"reversed range", &types.BookingStep{ID: "s1", Input: types.InputDateRange},
			&types.BookingAnswer{DateFrom: "2026-09-10", DateTo: "2026-09-01"}},
		{"missing number", &types.BookingStep{ID: "s1", Input: types.InputNumeric}, &types.BookingAnswer{}},
		{"unknown choice", &types.BookingStep{ID: "s1", Input: types.InputSingleChoice,
			Options: []types.BookingOption{{ID: "a"}}}, &types.BookingAnswer{ChoiceID: "z"}},
		{"partial multi choice", &types.BookingStep{ID: "s1", Input: types.InputMultiChoice,
			Options: []types.BookingOption{{ID: "a"}}}, &types.BookingAnswer{ChoiceIDs: []string{"a", "z"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &scriptedAPI{startStep: tc.step}
			flow, _ := newTestFlow(t, api)

			if _, err := flow.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			if _, err := flow.Advance(context.Background(), tc.answer); !types.IsError(err, types.ErrBookingAnswerInvalid) {
				t.Fatalf("expected ErrBookingAnswerInvalid, got %v", err)
			}
			if api.advanceCalls != 0 {
				t.Fatal("invalid answers must not hit the wire")
			}
		})
	}
}

func TestAdvanceMovesToNextStep(t *testing.T) {
	api := &scriptedAPI{
		startStep: &types.BookingStep{
			ID:      "destination",
			Input:   types.InputSingleChoice,
			Options: []types.BookingOption{{ID: "lisbon"}, {ID: "tokyo"}},
		},
		advances: map[string]*types.BookingAdvance{
			"destination": {Next: &types.BookingStep{ID: "dates", Input: types.InputDateRange}},
		},
	}

	flow, _ := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())

	next, err := flow.Advance(context.Background(), &types.BookingAnswer{ChoiceID: "lisbon"})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.ID != "dates" {
		t.Fatalf("expected next step, got %+v", next)
	}

	current, _ := flow.Current()
	if current.ID != "dates" {
		t.Fatal("Current must track the transition")
	}
}

func TestAdvanceRunsAttachedSearchAndCachesResult(t *testing.T) {
	api := &scriptedAPI{
		startStep: &types.BookingStep{ID: "dates", Input: types.InputDateRange},
		advances: map[string]*types.BookingAdvance{
			"dates": {
				Next:   &types.BookingStep{ID: "pick_flight", Input: types.InputSingleChoice},
				Search: &types.BookingSearch{Kind: types.SearchFlights, Params: map[string]string{"to": "LIS"}},
			},
		},
		searchResult: &types.BookingSearchResult{
			Kind:    types.SearchFlights,
			Options: []types.BookingOption{{ID: "f1", Price: 420}},
		},
	}

	flow, c := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())

	if _, err := flow.Advance(context.Background(), &types.BookingAnswer{
		DateFrom: "2026-09-01",
		DateTo:   "2026-09-10",
	}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	result := flow.LastResult()
	if result == nil || len(result.Options) != 1 || result.Options[0].ID != "f1" {
		t.Fatalf("expected search options via LastResult, got %+v", result)
	}

	value, freshness := c.Lookup(cache.BookingSearchKey(string(types.SearchFlights)))
	if freshness != types.FreshnessFresh {
		t.Fatal("search result must be cached")
	}
	if value.(*types.BookingSearchResult).Options[0].ID != "f1" {
		t.Fatal("cached result must match the search answer")
	}
}

func TestRegenerateRerunsLastSearch(t *testing.T) {
	api := &scriptedAPI{
		startStep: &types.BookingStep{ID: "dates", Input: types.InputDateRange},
		advances: map[string]*types.BookingAdvance{
			"dates": {
				Next:   &types.BookingStep{ID: "pick_flight", Input: types.InputSingleChoice},
				Search: &types.BookingSearch{Kind: types.SearchFlights},
			},
		},
		searchResult: &types.BookingSearchResult{Kind: types.SearchFlights},
	}

	flow, _ := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())
	_, _ = flow.Advance(context.Background(), &types.BookingAnswer{
		DateFrom: "2026-09-01",
		DateTo:   "2026-09-10",
	})

	api.searchResult = &types.BookingSearchResult{
		Kind:    types.SearchFlights,
		Options: []types.BookingOption{{ID: "f2"}},
	}

	result, err := flow.Regenerate(context.Background())
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if len(result.Options) != 1 || result.Options[0].ID != "f2" {
		t.Fatalf("expected fresh options, got %+v", result)
	}
	if api.searchCalls != 2 {
		t.Fatalf("expected 2 search calls, got %d", api.searchCalls)
	}
	if flow.LastResult().Options[0].ID != "f2" {
		t.Fatal("LastResult must track the regenerated options")
	}
}

func TestRegenerateWithoutSearch(t *testing.T) {
	api := &scriptedAPI{startStep: &types.BookingStep{ID: "s1", Input: types.InputText}}
	flow, _ := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())

	if _, err := flow.Regenerate(context.Background()); !types.IsError(err, types.ErrBookingNoSearch) {
		t.Fatalf("expected ErrBookingNoSearch, got %v", err)
	}
}

func TestTerminalStepEndsTheFlow(t *testing.T) {
	api := &scriptedAPI{
		startStep: &types.BookingStep{ID: "confirm", Input: types.InputText},
		advances: map[string]*types.BookingAdvance{
			"confirm": {Next: &types.BookingStep{ID: "done", Terminal: true}},
		},
	}

	flow, _ := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())

	if _, err := flow.Advance(context.Background(), &types.BookingAnswer{Text: "yes"}); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if _, err := flow.Advance(context.Background(), &types.BookingAnswer{Text: "again"}); !types.IsError(err, types.ErrBookingFlowComplete) {
		t.Fatalf("expected ErrBookingFlowComplete, got %v", err)
	}
}

func TestSearchFailureKeepsTheTransition(t *testing.T) {
	api := &scriptedAPI{
		startStep: &types.BookingStep{ID: "dates", Input: types.InputDateRange},
		advances: map[string]*types.BookingAdvance{
			"dates": {
				Next:   &types.BookingStep{ID: "pick_flight", Input: types.InputSingleChoice},
				Search: &types.BookingSearch{Kind: types.SearchHotels},
			},
		},
		searchErr: types.ErrClientRequestFailed,
	}

	flow, _ := newTestFlow(t, api)
	_, _ = flow.Start(context.Background())

	next, err := flow.Advance(context.Background(), &types.BookingAnswer{
		DateFrom: "2026-09-01",
		DateTo:   "2026-09-10",
	})
	if err != nil {
		t.Fatalf("a failed search must not fail the transition: %v", err)
	}
	if next.ID != "pick_flight" {
		t.Fatalf("expected the server's next step, got %+v", next)
	}

	// Regenerate retries the search once the backend recovers.
	api.searchErr = nil
	api.searchResult = &types.BookingSearchResult{Kind: types.SearchHotels}

	if _, err := flow.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
}
