package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/types"
)

// backend is the slice of the REST API the optimistic commands need.
type backend interface {
	CastVote(ctx context.Context, projectID string) (*types.Project, error)
	AddComment(ctx context.Context, projectID, body string) (*types.Comment, error)
	MarkConversationRead(ctx context.Context, conversationID string) (*types.NotificationCounts, error)
}

// Commands are the user-triggered optimistic writes. Each one patches
// the cache immediately, fires the call, and settles on the server's
// answer; the caller never waits for the round-trip to see the effect.
type Commands struct {
	mutator *Mutator
	cache   types.CacheManager
	api     backend
}

func NewCommands(mutator *Mutator, cacheManager types.CacheManager, api backend) *Commands {
	return &Commands{
		mutator: mutator,
		cache:   cacheManager,
		api:     api,
	}
}

// CastVote bumps the tally on every cached page showing the project,
// then settles each of them at the server's authoritative count. The
// local +1 is a guess; the server may count concurrent votes.
func (c *Commands) CastVote(ctx context.Context, projectID string) (*types.Project, error) {
	if projectID == "" {
		return nil, types.ErrMutationKeyMissing
	}

	keys := c.pagesContaining(projectID)

	targets := make([]Target, 0, len(keys))
	for _, key := range keys {
		targets = append(targets, Target{
			Key: key,
			Speculate: func(current interface{}) interface{} {
				page, ok := current.(*types.ProjectPage)
				if !ok {
					return current
				}
				return patchProject(page, projectID, func(p *types.Project) {
					p.Votes++
				})
			},
		})
	}

	result, err := c.mutator.Do(ctx, &Mutation{
		Name:    "cast_vote",
		Targets: targets,
		Call: func(ctx context.Context) (interface{}, error) {
			return c.api.CastVote(ctx, projectID)
		},
		Reconcile: func(result interface{}) {
			authoritative, ok := result.(*types.Project)
			if !ok {
				return
			}
			for _, key := range keys {
				c.cache.Patch(key, func(current interface{}) interface{} {
					page, ok := current.(*types.ProjectPage)
					if !ok {
						return current
					}
					return patchProject(page, projectID, func(p *types.Project) {
						*p = *authoritative
					})
				})
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return result.(*types.Project), nil
}

// AddComment appends a pending placeholder comment, then swaps it for
// the server-assigned one. Feed pages carrying the project's comment
// count are staleness-marked rather than guessed at.
func (c *Commands) AddComment(ctx context.Context, projectID, authorID, body string) (*types.Comment, error) {
	if projectID == "" {
		return nil, types.ErrMutationKeyMissing
	}

	pending := types.Comment{
		ID:        "pending-" + uuid.NewString(),
		ProjectID: projectID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now(),
		Pending:   true,
	}

	key := cache.ProjectCommentsKey(projectID)

	result, err := c.mutator.Do(ctx, &Mutation{
		Name: "add_comment",
		Targets: []Target{
			{
				Key: key,
				Speculate: func(current interface{}) interface{} {
					list, ok := current.(*types.CommentList)
					if !ok {
						return current
					}
					next := *list
					next.Items = append(append([]types.Comment{}, list.Items...), pending)
					return &next
				},
				Create: &types.CommentList{
					ProjectID: projectID,
					Items:     []types.Comment{pending},
				},
			},
		},
		Call: func(ctx context.Context) (interface{}, error) {
			return c.api.AddComment(ctx, projectID, body)
		},
		Reconcile: func(result interface{}) {
			authoritative, ok := result.(*types.Comment)
			if !ok {
				return
			}

			c.cache.Patch(key, func(current interface{}) interface{} {
				list, ok := current.(*types.CommentList)
				if !ok {
					return current
				}

				next := *list
				next.Items = append([]types.Comment{}, list.Items...)

				replaced := false
				for i := range next.Items {
					if next.Items[i].ID == pending.ID {
						next.Items[i] = *authoritative
						replaced = true
						break
					}
				}
				if !replaced {
					next.Items = append(next.Items, *authoritative)
				}
				return &next
			})

			for _, pageKey := range c.pagesContaining(projectID) {
				_ = c.cache.Invalidate(pageKey)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return result.(*types.Comment), nil
}

// MarkRead zeroes the conversation's unread count locally and adjusts
// the badge counter by the same amount, then replaces the counters with
// the server's authoritative answer.
func (c *Commands) MarkRead(ctx context.Context, conversationID string) (*types.NotificationCounts, error) {
	if conversationID == "" {
		return nil, types.ErrMutationKeyMissing
	}

	unread := 0
	if value, freshness := c.cache.Lookup(cache.ConversationKey(conversationID)); freshness != types.FreshnessMiss {
		if conv, ok := value.(*types.Conversation); ok {
			unread = conv.UnreadCount
		}
	}

	result, err := c.mutator.Do(ctx, &Mutation{
		Name: "mark_read",
		Targets: []Target{
			{
				Key: cache.ConversationKey(conversationID),
				Speculate: func(current interface{}) interface{} {
					conv, ok := current.(*types.Conversation)
					if !ok {
						return current
					}
					next := *conv
					next.UnreadCount = 0
					next.Messages = append([]types.Message{}, conv.Messages...)
					for i := range next.Messages {
						next.Messages[i].Read = true
					}
					return &next
				},
			},
			{
				Key: cache.CountsKey(),
				Speculate: func(current interface{}) interface{} {
					counts, ok := current.(*types.NotificationCounts)
					if !ok {
						return current
					}
					next := *counts
					next.UnreadMessages = counts.UnreadMessages - unread
					if next.UnreadMessages < 0 {
						next.UnreadMessages = 0
					}
					return &next
				},
			},
		},
		Call: func(ctx context.Context) (interface{}, error) {
			return c.api.MarkConversationRead(ctx, conversationID)
		},
		Reconcile: func(result interface{}) {
			authoritative, ok := result.(*types.NotificationCounts)
			if !ok {
				return
			}
			counts := *authoritative
			counts.FetchedAt = time.Now()
			_ = c.cache.Store(cache.CountsKey(), &counts, types.EntryOptions{})
		},
	})
	if err != nil {
		return nil, err
	}

	return result.(*types.NotificationCounts), nil
}

func (c *Commands) pagesContaining(projectID string) []string {
	var keys []string

	for _, key := range c.cache.Keys(cache.KindProjects) {
		if cache.KindOf(key) != cache.KindProjects {
			continue
		}
		if isCommentsKey(key) {
			continue
		}

		value, freshness := c.cache.Lookup(key)
		if freshness == types.FreshnessMiss {
			continue
		}

		page, ok := value.(*types.ProjectPage)
		if !ok {
			continue
		}

		for i := range page.Items {
			if page.Items[i].ID == projectID {
				keys = append(keys, key)
				break
			}
		}
	}

	return keys
}

func patchProject(page *types.ProjectPage, projectID string, apply func(*types.Project)) *types.ProjectPage {
	next := *page
	next.Items = append([]types.Project{}, page.Items...)

	for i := range next.Items {
		if next.Items[i].ID == projectID {
			apply(&next.Items[i])
			break
		}
	}

	return &next
}

func isCommentsKey(key string) bool {
	const prefix = cache.KindProjects + "/comments/"
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}
