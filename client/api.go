package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/wanderlink/wander-sync/types"
)

// API wraps the raw transport with typed endpoint helpers. Paths and
// payload shapes are the backend's wire contract.
type API struct {
	http types.APIClient
}

func NewAPI(http types.APIClient) *API {
	return &API{http: http}
}

func (a *API) Projects(ctx context.Context, feed string, page int) (*types.ProjectPage, error) {
	out := &types.ProjectPage{}
	path := fmt.Sprintf("/api/projects?feed=%s&page=%d", url.QueryEscape(feed), page)
	if err := a.http.Call(ctx, "GET", path, nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) ProjectComments(ctx context.Context, projectID string) (*types.CommentList, error) {
	out := &types.CommentList{}
	path := "/api/projects/" + url.PathEscape(projectID) + "/comments"
	if err := a.http.Call(ctx, "GET", path, nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	var out []types.LeaderboardEntry
	if err := a.http.Call(ctx, "GET", "/api/leaderboard", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Chains(ctx context.Context) ([]types.Chain, error) {
	var out []types.Chain
	if err := a.http.Call(ctx, "GET", "/api/chains", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) TravelGroups(ctx context.Context) ([]types.TravelGroup, error) {
	var out []types.TravelGroup
	if err := a.http.Call(ctx, "GET", "/api/groups", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Investors(ctx context.Context) ([]types.Investor, error) {
	var out []types.Investor
	if err := a.http.Call(ctx, "GET", "/api/investors", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]types.User, error) {
	var out []types.User
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := a.http.Call(ctx, "GET", path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) IntroRequests(ctx context.Context) (*types.IntroRequestList, error) {
	out := &types.IntroRequestList{}
	if err := a.http.Call(ctx, "GET", "/api/intros/pending", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) RequestIntro(ctx context.Context, investorID string) (*types.IntroRequest, error) {
	out := &types.IntroRequest{}
	body := map[string]string{"investor_id": investorID}
	if err := a.http.Call(ctx, "POST", "/api/intros/request", body, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Conversations(ctx context.Context) (*types.ConversationList, error) {
	out := &types.ConversationList{}
	if err := a.http.Call(ctx, "GET", "/api/conversations", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Conversation(ctx context.Context, id string) (*types.Conversation, error) {
	out := &types.Conversation{}
	if err := a.http.Call(ctx, "GET", "/api/conversations/"+url.PathEscape(id), nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) NotificationCounts(ctx context.Context) (*types.NotificationCounts, error) {
	out := &types.NotificationCounts{}
	if err := a.http.Call(ctx, "GET", "/api/notifications/counts", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) AdminOverview(ctx context.Context) (*types.AdminOverview, error) {
	out := &types.AdminOverview{}
	if err := a.http.Call(ctx, "GET", "/api/admin/overview", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// CastVote returns the authoritative project, vote tally included.
func (a *API) CastVote(ctx context.Context, projectID string) (*types.Project, error) {
	out := &types.Project{}
	path := "/api/projects/" + url.PathEscape(projectID) + "/vote"
	if err := a.http.Call(ctx, "POST", path, nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) AddComment(ctx context.Context, projectID, body string) (*types.Comment, error) {
	out := &types.Comment{}
	path := "/api/projects/" + url.PathEscape(projectID) + "/comments"
	payload := map[string]string{"body": body}
	if err := a.http.Call(ctx, "POST", path, payload, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkConversationRead returns the authoritative counters after the
// server has processed the read receipt.
func (a *API) MarkConversationRead(ctx context.Context, conversationID string) (*types.NotificationCounts, error) {
	out := &types.NotificationCounts{}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := a.http.Call(ctx, "POST", path, nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) BookingStart(ctx context.Context) (*types.BookingStep, error) {
	out := &types.BookingStep{}
	if err := a.http.Call(ctx, "POST", "/api/booking/start", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) BookingAdvance(ctx context.Context, stepID string, answer *types.BookingAnswer) (*types.BookingAdvance, error) {
	out := &types.BookingAdvance{}
	body := map[string]interface{}{"step_id": stepID, "answer": answer}
	if err := a.http.Call(ctx, "POST", "/api/booking/advance", body, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) BookingSearch(ctx context.Context, search *types.BookingSearch) (*types.BookingSearchResult, error) {
	out := &types.BookingSearchResult{}
	if err := a.http.Call(ctx, "POST", "/api/booking/search", search, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}
