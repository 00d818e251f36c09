package booking

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/types"
)

type bookingAPI interface {
	BookingStart(ctx context.Context) (*types.BookingStep, error)
	BookingAdvance(ctx context.Context, stepID string, answer *types.BookingAnswer) (*types.BookingAdvance, error)
	BookingSearch(ctx context.Context, search *types.BookingSearch) (*types.BookingSearchResult, error)
}

// Flow drives the guided booking conversation. The step graph lives
// server-side; the client holds only the current step, validates the
// answer shape locally before the round-trip, and runs whatever search
// the server attaches to a transition. Search results are cached so
// Regenerate can be compared against the previous options.
type Flow struct {
	logger   types.Logger
	api      bookingAPI
	cache    types.CacheManager
	validate *validator.Validate

	mu         sync.Mutex
	current    *types.BookingStep
	lastSearch *types.BookingSearch
	lastResult *types.BookingSearchResult
	done       bool
}

func NewFlow(logger types.Logger, api bookingAPI, cacheManager types.CacheManager) *Flow {
	return &Flow{
		logger:   logger,
		api:      api,
		cache:    cacheManager,
		validate: validator.New(),
	}
}

// Start begins (or restarts) the conversation at the server's first
// step. Restarting discards any in-progress state.
func (f *Flow) Start(ctx context.Context) (*types.BookingStep, error) {
	step, err := f.api.BookingStart(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.current = step
	f.lastSearch = nil
	f.lastResult = nil
	f.done = step.Terminal
	f.mu.Unlock()

	f.logger.Debug("Booking flow started", zap.String("step", step.ID))
	return step, nil
}

func (f *Flow) Current() (*types.BookingStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return nil, types.ErrBookingNotStarted
	}
	return f.current, nil
}

// LastResult returns the options from the most recent search, if any.
func (f *Flow) LastResult() *types.BookingSearchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastResult
}

// Advance validates the answer against the current step's input kind,
// submits it, and moves to the server's next step. When the transition
// carries a search, it runs before Advance returns and its options are
// available via LastResult.
func (f *Flow) Advance(ctx context.Context, answer *types.BookingAnswer) (*types.BookingStep, error) {
	f.mu.Lock()
	current := f.current
	done := f.done
	f.mu.Unlock()

	if current == nil {
		return nil, types.ErrBookingNotStarted
	}
	if done {
		return nil, types.ErrBookingFlowComplete
	}

	if err := f.validateAnswer(current, answer); err != nil {
		return nil, err
	}

	advance, err := f.api.BookingAdvance(ctx, current.ID, answer)
	if err != nil {
		return nil, err
	}

	var result *types.BookingSearchResult
	if advance.Search != nil {
		result, err = f.runSearch(ctx, advance.Search)
		if err != nil {
			// The step transition already happened server-side; keep it
			// and let Regenerate retry the search.
			f.logger.Warn("Booking search failed", zap.Error(err))
		}
	}

	f.mu.Lock()
	f.current = advance.Next
	if advance.Search != nil {
		f.lastSearch = advance.Search
		f.lastResult = result
	}
	if advance.Next == nil || advance.Next.Terminal {
		f.done = true
	}
	f.mu.Unlock()

	return advance.Next, nil
}

// Regenerate re-runs the most recent search without advancing the
// conversation. Used when the user rejects the offered options.
func (f *Flow) Regenerate(ctx context.Context) (*types.BookingSearchResult, error) {
	f.mu.Lock()
	search := f.lastSearch
	f.mu.Unlock()

	if search == nil {
		return nil, types.ErrBookingNoSearch
	}

	result, err := f.runSearch(ctx, search)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.lastResult = result
	f.mu.Unlock()

	return result, nil
}

func (f *Flow) runSearch(ctx context.Context, search *types.BookingSearch) (*types.BookingSearchResult, error) {
	result, err := f.api.BookingSearch(ctx, search)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Store(cache.BookingSearchKey(string(search.Kind)), result, types.EntryOptions{}); err != nil {
			f.logger.Warn("Failed to cache search result", zap.Error(err))
		}
	}

	return result, nil
}

// validateAnswer rejects malformed answers before they hit the wire.
// The server validates again; this only saves a round-trip.
func (f *Flow) validateAnswer(step *types.BookingStep, answer *types.BookingAnswer) error {
	if answer == nil {
		return types.Errorf(types.ErrBookingAnswerInvalid, "answer is nil")
	}

	if err := f.validate.Struct(answer); err != nil {
		return types.WrapError(types.ErrBookingAnswerInvalid, err.Error())
	}

	switch step.Input {
	case types.InputText:
		if answer.Text == "" {
			return types.Errorf(types.ErrBookingAnswerInvalid, "step %s expects text", step.ID)
		}

	case types.InputDateRange:
		from, err := time.Parse("2006-01-02", answer.DateFrom)
		if err != nil {
			return types.Errorf(types.ErrBookingAnswerInvalid, "step %s expects a valid date_from", step.ID)
		}
		to, err := time.Parse("2006-01-02", answer.DateTo)
		if err != nil {
			return types.Errorf(types.ErrBookingAnswerInvalid, "step %s expects a valid date_to", step.ID)
		}
		if to.Before(from) {
			return types.Errorf(types.ErrBookingAnswerInvalid, "date_to precedes date_from")
		}

	case types.InputNumeric:
		if answer.Number == nil {
			return types.Errorf(types.ErrBookingAnswerInvalid, "step %s expects a number", step.ID)
		}

	case types.InputSingleChoice:
		if !hasOption(step.Options, answer.ChoiceID) {
			return types.Errorf(types.ErrBookingAnswerInvalid, "choice %q is not offered by step %s", answer.ChoiceID, step.ID)
		}

	case types.InputMultiChoice:
		if len(answer.ChoiceIDs) == 0 {
			return types.Errorf(types.ErrBookingAnswerInvalid, "step %s expects at least one choice", step.ID)
		}
		for _, id := range answer.ChoiceIDs {
			if !hasOption(step.Options, id) {
				return types.Errorf(types.ErrBookingAnswerInvalid, "choice %q is not offered by step %s", id, step.ID)
			}
		}

	default:
		return types.Errorf(types.ErrBookingAnswerInvalid, "unknown input kind %q", step.Input)
	}

	return nil
}

func hasOption(options []types.BookingOption, id string) bool {
	if id == "" {
		return false
	}
	for i := range options {
		if options[i].ID == id {
			return true
		}
	}
	return false
}
