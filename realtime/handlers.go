package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

// CacheHandlers translate push events into cache mutations. Strategy
// per event class:
//
//   - self-contained payloads (messages, notification counters) are
//     patched into the cached value directly, no refetch;
//   - server-computed aggregates (vote tallies, comment counts) get a
//     targeted invalidation of the entries that contain the record, so
//     the next read refetches the authoritative number;
//   - structural changes (new project) invalidate the whole family.
//
// Handlers are idempotent: a redelivered event must not double-insert
// or double-count.
type CacheHandlers struct {
	logger  types.Logger
	cache   types.CacheManager
	alerter types.Alerter
}

func NewCacheHandlers(logger types.Logger, cacheManager types.CacheManager, alerter types.Alerter) *CacheHandlers {
	return &CacheHandlers{
		logger:  logger,
		cache:   cacheManager,
		alerter: alerter,
	}
}

// RegisterAll attaches every handler to the bridge. Called once during
// app assembly; double registration fails fast.
func (h *CacheHandlers) RegisterAll(bridge types.EventBridge) error {
	handlers := map[string]types.EventHandler{
		"message:received": h.handleMessageReceived,
		"new_notification": h.handleNewNotification,
		"vote:cast":        h.handleVoteCast,
		"comment:added":    h.handleCommentAdded,
		"intro:requested":  h.handleIntroRequested,
		"project:created":  h.handleProjectCreated,
	}

	for name, handler := range handlers {
		if err := bridge.On(name, handler); err != nil {
			return types.WrapError(err, "failed to register handler for "+name)
		}
	}

	return nil
}

type messagePayload struct {
	Message types.Message `json:"message"`
}

// handleMessageReceived patches the new message into the cached
// conversation and bumps the local unread counter. The counter bump is
// advisory; the periodic counts poll reconciles it with the server.
func (h *CacheHandlers) handleMessageReceived(event *types.Event) error {
	var payload messagePayload
	if err := utils.Unmarshal(event.Payload, &payload); err != nil {
		return types.WrapError(err, "malformed message payload")
	}

	msg := payload.Message
	if msg.ID == "" || msg.ConversationID == "" {
		return types.NewErrorf("message payload missing id or conversation_id")
	}

	inserted := false

	h.cache.Patch(cache.ConversationKey(msg.ConversationID), func(current interface{}) interface{} {
		conv, ok := current.(*types.Conversation)
		if !ok {
			return current
		}

		for i := range conv.Messages {
			if conv.Messages[i].ID == msg.ID {
				return conv
			}
		}

		next := *conv
		next.Messages = append(append([]types.Message{}, conv.Messages...), msg)
		next.UnreadCount = conv.UnreadCount + 1
		next.UpdatedAt = msg.SentAt
		inserted = true
		return &next
	})

	if inserted {
		h.cache.Patch(cache.CountsKey(), func(current interface{}) interface{} {
			counts, ok := current.(*types.NotificationCounts)
			if !ok {
				return current
			}

			next := *counts
			next.UnreadMessages = counts.UnreadMessages + 1
			return &next
		})
	}

	// The list view re-sorts by last activity; cheaper to refetch than
	// to replicate the ordering rules here.
	if err := h.cache.Invalidate(cache.ConversationsKey()); err != nil {
		h.logger.Warn("Failed to invalidate conversation list", zap.Error(err))
	}

	if inserted && h.alerter != nil {
		h.alerter.Alert("New message", msg.Body)
		h.alerter.Chime()
	}

	return nil
}

// handleNewNotification replaces the local counters with the
// server-sent ones. The payload carries the full authoritative state,
// so applying it twice is harmless.
func (h *CacheHandlers) handleNewNotification(event *types.Event) error {
	var counts types.NotificationCounts
	if err := utils.Unmarshal(event.Payload, &counts); err != nil {
		return types.WrapError(err, "malformed notification payload")
	}

	counts.FetchedAt = time.Now()

	patched := h.cache.Patch(cache.CountsKey(), func(interface{}) interface{} {
		c := counts
		return &c
	})

	if !patched {
		c := counts
		if err := h.cache.Store(cache.CountsKey(), &c, types.EntryOptions{}); err != nil {
			return types.WrapError(err, "failed to store notification counts")
		}
	}

	return nil
}

type votePayload struct {
	ProjectID string `json:"project_id"`
}

// handleVoteCast marks every cached feed page containing the project as
// stale. Tallies are server-computed; the next read fetches the real
// number instead of the client guessing at increments.
func (h *CacheHandlers) handleVoteCast(event *types.Event) error {
	var payload votePayload
	if err := utils.Unmarshal(event.Payload, &payload); err != nil {
		return types.WrapError(err, "malformed vote payload")
	}

	if payload.ProjectID == "" {
		return types.NewErrorf("vote payload missing project_id")
	}

	h.invalidatePagesContaining(payload.ProjectID)
	return nil
}

type commentPayload struct {
	ProjectID string        `json:"project_id"`
	Comment   types.Comment `json:"comment"`
}

// handleCommentAdded patches the comment into the cached list for the
// project and staleness-marks feed pages, whose comment_count aggregate
// is server-computed.
func (h *CacheHandlers) handleCommentAdded(event *types.Event) error {
	var payload commentPayload
	if err := utils.Unmarshal(event.Payload, &payload); err != nil {
		return types.WrapError(err, "malformed comment payload")
	}

	if payload.ProjectID == "" || payload.Comment.ID == "" {
		return types.NewErrorf("comment payload missing project_id or comment id")
	}

	h.cache.Patch(cache.ProjectCommentsKey(payload.ProjectID), func(current interface{}) interface{} {
		list, ok := current.(*types.CommentList)
		if !ok {
			return current
		}

		for i := range list.Items {
			if list.Items[i].ID == payload.Comment.ID {
				return list
			}
		}

		next := *list
		next.Items = append(append([]types.Comment{}, list.Items...), payload.Comment)
		return &next
	})

	h.invalidatePagesContaining(payload.ProjectID)
	return nil
}

type introPayload struct {
	Intro types.IntroRequest `json:"intro"`
}

func (h *CacheHandlers) handleIntroRequested(event *types.Event) error {
	var payload introPayload
	if err := utils.Unmarshal(event.Payload, &payload); err != nil {
		return types.WrapError(err, "malformed intro payload")
	}

	if payload.Intro.ID == "" {
		return types.NewErrorf("intro payload missing id")
	}

	inserted := false

	h.cache.Patch(cache.IntrosKey(), func(current interface{}) interface{} {
		list, ok := current.(*types.IntroRequestList)
		if !ok {
			return current
		}

		for i := range list.Items {
			if list.Items[i].ID == payload.Intro.ID {
				return list
			}
		}

		next := *list
		next.Items = append(append([]types.IntroRequest{}, list.Items...), payload.Intro)
		inserted = true
		return &next
	})

	if inserted {
		h.cache.Patch(cache.CountsKey(), func(current interface{}) interface{} {
			counts, ok := current.(*types.NotificationCounts)
			if !ok {
				return current
			}

			next := *counts
			next.PendingIntros = counts.PendingIntros + 1
			return &next
		})

		if h.alerter != nil {
			h.alerter.Alert("Intro request", "Someone wants an introduction")
		}
	}

	return nil
}

// handleProjectCreated is the one broad invalidation: a new project can
// appear on any feed page, so the whole family goes stale.
func (h *CacheHandlers) handleProjectCreated(event *types.Event) error {
	if err := h.cache.InvalidateKind(cache.KindProjects); err != nil {
		return types.WrapError(err, "failed to invalidate projects")
	}
	return nil
}

// invalidatePagesContaining staleness-marks only the feed pages whose
// snapshot holds the project. Pages that never saw it keep their
// freshness. Entries of unexpected shape are invalidated too; refetch
// is the safe answer when the snapshot can't be inspected.
func (h *CacheHandlers) invalidatePagesContaining(projectID string) {
	for _, key := range h.cache.Keys(cache.KindProjects) {
		if key == cache.ProjectCommentsKey(projectID) {
			continue
		}
		if cacheIsCommentsKey(key) {
			continue
		}

		value, freshness := h.cache.Lookup(key)
		if freshness == types.FreshnessMiss {
			continue
		}

		page, ok := value.(*types.ProjectPage)
		if !ok {
			if err := h.cache.Invalidate(key); err != nil {
				h.logger.Warn("Failed to invalidate page", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		for i := range page.Items {
			if page.Items[i].ID == projectID {
				if err := h.cache.Invalidate(key); err != nil {
					h.logger.Warn("Failed to invalidate page", zap.String("key", key), zap.Error(err))
				}
				break
			}
		}
	}
}

func cacheIsCommentsKey(key string) bool {
	const prefix = cache.KindProjects + "/comments/"
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}
