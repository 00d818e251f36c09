package types

import (
	"time"
)

// Domain entities mirrored from the backend. Shapes follow the wire
// contract; the client never computes aggregates itself (vote tallies,
// unread totals are server-authoritative).

type User struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Project struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	AuthorID     string    `json:"author_id"`
	ChainID      string    `json:"chain_id,omitempty"`
	Votes        int       `json:"votes"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type ProjectPage struct {
	Items []Project `json:"items"`
	Page  int       `json:"page"`
	Total int       `json:"total"`
}

type Comment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"-"`
}

type CommentList struct {
	ProjectID string    `json:"project_id"`
	Items     []Comment `json:"items"`
}

type Chain struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberCount int    `json:"member_count"`
}

type TravelGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination"`
	MemberCount int       `json:"member_count"`
	DepartsAt   time.Time `json:"departs_at"`
}

type Investor struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Firm    string   `json:"firm"`
	Sectors []string `json:"sectors"`
	Open    bool     `json:"open"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	Score  int    `json:"score"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
	UnreadCount  int       `json:"unread_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

type IntroRequest struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"from_user_id"`
	InvestorID string    `json:"investor_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type IntroRequestList struct {
	Items []IntroRequest `json:"items"`
}

// NotificationCounts are server-authoritative counters mirrored
// locally; local copies are advisory and reconciled on an interval and
// on reconnect.
type NotificationCounts struct {
	UnreadMessages int       `json:"unread_messages"`
	PendingIntros  int       `json:"pending_intros"`
	FetchedAt      time.Time `json:"-"`
}

type AdminOverview struct {
	PendingReports int `json:"pending_reports"`
	NewUsersToday  int `json:"new_users_today"`
	OpenFlags      int `json:"open_flags"`
}
