package cache

import (
	"strconv"
	"strings"
)

// Cache keys are composite: "kind/param/param...". The kind segment is
// the invalidation family used by InvalidateKind.
const (
	KindProjects      = "projects"
	KindLeaderboard   = "leaderboard"
	KindChains        = "chains"
	KindGroups        = "groups"
	KindInvestors     = "investors"
	KindConversations = "conversations"
	KindIntros        = "intros"
	KindCounts        = "counts"
	KindAdmin         = "admin"
	KindUsers         = "users"
	KindBooking       = "booking"
)

func Key(kind string, params ...string) string {
	if len(params) == 0 {
		return kind
	}
	return kind + "/" + strings.Join(params, "/")
}

func KindOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

func ProjectsKey(feed string, page int) string {
	return Key(KindProjects, feed, strconv.Itoa(page))
}

func ProjectCommentsKey(projectID string) string {
	return Key(KindProjects, "comments", projectID)
}

func LeaderboardKey() string {
	return Key(KindLeaderboard)
}

func ChainsKey() string {
	return Key(KindChains)
}

func GroupsKey() string {
	return Key(KindGroups)
}

func InvestorsKey() string {
	return Key(KindInvestors)
}

func ConversationsKey() string {
	return Key(KindConversations)
}

func ConversationKey(id string) string {
	return Key(KindConversations, id)
}

func IntrosKey() string {
	return Key(KindIntros)
}

func CountsKey() string {
	return Key(KindCounts)
}

func AdminOverviewKey() string {
	return Key(KindAdmin, "overview")
}

func BookingSearchKey(kind string) string {
	return Key(KindBooking, "search", kind)
}
