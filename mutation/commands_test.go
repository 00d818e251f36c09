package mutation

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/types"
)

type fakeBackend struct {
	voteResult    *types.Project
	voteErr       error
	commentResult *types.Comment
	commentErr    error
	readResult    *types.NotificationCounts
	readErr       error

	voteCalls int
	voteHook  func()
}

func (f *fakeBackend) CastVote(ctx context.Context, projectID string) (*types.Project, error) {
	f.voteCalls++
	if f.voteHook != nil {
		f.voteHook()
	}
	return f.voteResult, f.voteErr
}

func (f *fakeBackend) AddComment(ctx context.Context, projectID, body string) (*types.Comment, error) {
	return f.commentResult, f.commentErr
}

func (f *fakeBackend) MarkConversationRead(ctx context.Context, conversationID string) (*types.NotificationCounts, error) {
	return f.readResult, f.readErr
}

func newTestSetup(t *testing.T) (types.CacheManager, *fakeBackend, *Commands) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	c, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{
		DefaultFreshFor:  time.Minute,
		DefaultRetainFor: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}

	backend := &fakeBackend{}
	commands := NewCommands(NewMutator(log, c, nil), c, backend)
	return c, backend, commands
}

func seedPage(t *testing.T, c types.CacheManager, feed string, page int, projects ...types.Project) string {
	t.Helper()

	key := cache.ProjectsKey(feed, page)
	if err := c.Store(key, &types.ProjectPage{Items: projects, Page: page}, types.EntryOptions{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return key
}

func pageVotes(t *testing.T, c types.CacheManager, key, projectID string) int {
	t.Helper()

	value, freshness := c.Lookup(key)
	if freshness == types.FreshnessMiss {
		t.Fatalf("page %s missing", key)
	}

	page := value.(*types.ProjectPage)
	for i := range page.Items {
		if page.Items[i].ID == projectID {
			return page.Items[i].Votes
		}
	}

	t.Fatalf("project %s not on page %s", projectID, key)
	return 0
}

func TestCastVoteSettlesAtAuthoritativeTally(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	key := seedPage(t, c, "trending", 1, types.Project{ID: "p1", Votes: 5})
	backend.voteResult = &types.Project{ID: "p1", Votes: 42}

	project, err := commands.CastVote(context.Background(), "p1")
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if project.Votes != 42 {
		t.Fatalf("expected authoritative result, got %d", project.Votes)
	}

	// The cache settles at the server's number, not the local +1 guess.
	if votes := pageVotes(t, c, key, "p1"); votes != 42 {
		t.Fatalf("cache must settle at 42, got %d", votes)
	}
}

func TestCastVoteRollsBackOnFailure(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	key := seedPage(t, c, "trending", 1, types.Project{ID: "p1", Votes: 5})
	backend.voteErr = types.ErrServerEnvelope

	if _, err := commands.CastVote(context.Background(), "p1"); !types.IsError(err, types.ErrServerEnvelope) {
		t.Fatalf("expected the call error to surface, got %v", err)
	}

	if votes := pageVotes(t, c, key, "p1"); votes != 5 {
		t.Fatalf("rollback must restore the pre-mutation tally, got %d", votes)
	}

	value, freshness := c.Lookup(key)
	if freshness != types.FreshnessFresh {
		t.Fatalf("rollback must not disturb freshness, got %s", freshness)
	}
	if len(value.(*types.ProjectPage).Items) != 1 {
		t.Fatal("rollback must restore the exact snapshot")
	}
}

func TestCastVotePatchesEveryPageShowingTheProject(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	trending := seedPage(t, c, "trending", 1, types.Project{ID: "p1", Votes: 5})
	fresh := seedPage(t, c, "fresh", 2, types.Project{ID: "p1", Votes: 5})
	other := seedPage(t, c, "fresh", 3, types.Project{ID: "p9", Votes: 1})

	backend.voteResult = &types.Project{ID: "p1", Votes: 6}

	if _, err := commands.CastVote(context.Background(), "p1"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}

	if pageVotes(t, c, trending, "p1") != 6 || pageVotes(t, c, fresh, "p1") != 6 {
		t.Fatal("every page holding the project must settle at the authoritative tally")
	}
	if pageVotes(t, c, other, "p9") != 1 {
		t.Fatal("pages without the project must be untouched")
	}
}

func TestCastVoteConvergesWhenEventLandsMidCall(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	key := seedPage(t, c, "trending", 1, types.Project{ID: "p1", Votes: 5})
	backend.voteResult = &types.Project{ID: "p1", Votes: 42}

	// A vote:cast push for the same project arrives while the call is
	// in flight and staleness-marks the page, exactly what the realtime
	// handler does.
	backend.voteHook = func() {
		if err := c.Invalidate(key); err != nil {
			t.Errorf("Invalidate: %v", err)
		}
	}

	if _, err := commands.CastVote(context.Background(), "p1"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}

	// The snapshot settles at the server's tally; the event's staleness
	// mark survives, so the next read still refetches.
	value, freshness := c.Lookup(key)
	if freshness != types.FreshnessStale {
		t.Fatalf("the event's invalidation must survive reconciliation, got %s", freshness)
	}
	page := value.(*types.ProjectPage)
	if page.Items[0].Votes != 42 {
		t.Fatalf("cache must converge on the authoritative tally, got %d", page.Items[0].Votes)
	}
}

func TestAddCommentReplacesPendingPlaceholder(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	key := cache.ProjectCommentsKey("p1")
	_ = c.Store(key, &types.CommentList{ProjectID: "p1", Items: []types.Comment{
		{ID: "c1", Body: "first"},
	}}, types.EntryOptions{})

	backend.commentResult = &types.Comment{ID: "c2", ProjectID: "p1", Body: "hello"}

	comment, err := commands.AddComment(context.Background(), "p1", "u1", "hello")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if comment.ID != "c2" {
		t.Fatalf("expected server-assigned id, got %s", comment.ID)
	}

	value, _ := c.Lookup(key)
	list := value.(*types.CommentList)

	if len(list.Items) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(list.Items))
	}
	last := list.Items[1]
	if last.ID != "c2" || last.Pending {
		t.Fatalf("placeholder must be swapped for the authoritative comment, got %+v", last)
	}
}

func TestAddCommentRollbackDeletesSpeculativeList(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	backend.commentErr = types.ErrClientRequestFailed

	// No comments cached yet: the speculation creates the entry, so
	// rollback must delete it again.
	if _, err := commands.AddComment(context.Background(), "p1", "u1", "hello"); err == nil {
		t.Fatal("expected error")
	}

	if _, freshness := c.Lookup(cache.ProjectCommentsKey("p1")); freshness != types.FreshnessMiss {
		t.Fatal("speculative entry must be deleted on rollback")
	}
}

func TestMarkReadAdjustsCountersOptimistically(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	_ = c.Store(cache.ConversationKey("conv1"), &types.Conversation{
		ID:          "conv1",
		UnreadCount: 4,
		Messages:    []types.Message{{ID: "m1"}},
	}, types.EntryOptions{})
	_ = c.Store(cache.CountsKey(), &types.NotificationCounts{UnreadMessages: 9, PendingIntros: 2}, types.EntryOptions{})

	backend.readResult = &types.NotificationCounts{UnreadMessages: 5, PendingIntros: 2}

	counts, err := commands.MarkRead(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if counts.UnreadMessages != 5 {
		t.Fatalf("expected authoritative counters, got %+v", counts)
	}

	value, _ := c.Lookup(cache.ConversationKey("conv1"))
	conv := value.(*types.Conversation)
	if conv.UnreadCount != 0 || !conv.Messages[0].Read {
		t.Fatalf("conversation must be marked read, got %+v", conv)
	}

	value, _ = c.Lookup(cache.CountsKey())
	if value.(*types.NotificationCounts).UnreadMessages != 5 {
		t.Fatal("counts must settle at the server's answer")
	}
}

func TestMarkReadRollsBackBothTargets(t *testing.T) {
	c, backend, commands := newTestSetup(t)

	_ = c.Store(cache.ConversationKey("conv1"), &types.Conversation{
		ID:          "conv1",
		UnreadCount: 4,
	}, types.EntryOptions{})
	_ = c.Store(cache.CountsKey(), &types.NotificationCounts{UnreadMessages: 9}, types.EntryOptions{})

	backend.readErr = types.ErrClientRequestFailed

	if _, err := commands.MarkRead(context.Background(), "conv1"); err == nil {
		t.Fatal("expected error")
	}

	value, _ := c.Lookup(cache.ConversationKey("conv1"))
	if value.(*types.Conversation).UnreadCount != 4 {
		t.Fatal("conversation unread count must roll back")
	}

	value, _ = c.Lookup(cache.CountsKey())
	if value.(*types.NotificationCounts).UnreadMessages != 9 {
		t.Fatal("badge counter must roll back")
	}
}

func TestCastVoteRequiresProjectID(t *testing.T) {
	_, _, commands := newTestSetup(t)

	if _, err := commands.CastVote(context.Background(), ""); !types.IsError(err, types.ErrMutationKeyMissing) {
		t.Fatalf("expected ErrMutationKeyMissing, got %v", err)
	}
}
