package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig configures the REST collaborator.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type restClient struct {
	client *resty.Client
}

// NewClient builds a Collaborator over HTTP.
func NewClient(cfg ClientConfig) Collaborator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		cli.SetAuthToken(cfg.Token)
	}

	return &restClient{client: cli}
}

func (r *restClient) CreateConversation(ctx context.Context, p CreateParams) (CreateResult, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		Post("/v1/conversations")
	if err != nil {
		return CreateResult{}, fmt.Errorf("create conversation request: %w", err)
	}
	if err = apiError(resp); err != nil {
		return CreateResult{}, err
	}

	var out CreateResult
	if err = json.Unmarshal(resp.Body(), &out); err != nil {
		return CreateResult{}, fmt.Errorf("decode create response: %w", err)
	}
	return out, nil
}

func (r *restClient) JoinConversation(ctx context.Context, conversationUUID, userID, memberID string) (JoinResult, error) {
	body := map[string]string{"user_id": userID}
	if memberID != "" {
		body["member_id"] = memberID
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v1/conversations/" + conversationUUID + "/members")
	if err != nil {
		return JoinResult{}, fmt.Errorf("join conversation request: %w", err)
	}
	if err = apiError(resp); err != nil {
		return JoinResult{}, err
	}

	var out JoinResult
	if err = json.Unmarshal(resp.Body(), &out); err != nil {
		return JoinResult{}, fmt.Errorf("decode join response: %w", err)
	}
	return out, nil
}

func (r *restClient) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		Get("/v1/conversations")
	if err != nil {
		return nil, fmt.Errorf("list conversations request: %w", err)
	}
	if err = apiError(resp); err != nil {
		return nil, err
	}

	var out []ConversationSummary
	if err = json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return out, nil
}

func (r *restClient) FetchConversation(ctx context.Context, conversationUUID string) (ConversationDetail, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		Get("/v1/conversations/" + conversationUUID)
	if err != nil {
		return ConversationDetail{}, fmt.Errorf("fetch conversation request: %w", err)
	}
	if err = apiError(resp); err != nil {
		return ConversationDetail{}, err
	}

	var out ConversationDetail
	if err = json.Unmarshal(resp.Body(), &out); err != nil {
		return ConversationDetail{}, fmt.Errorf("decode conversation detail: %w", err)
	}
	return out, nil
}

func (r *restClient) SendEvent(ctx context.Context, conversationUUID string, ev OutboundEvent) (SendResult, error) {
	payload := map[string]any{
		"type": ev.Type,
		"from": ev.FromMemberID,
	}
	if ev.Body != "" {
		payload["body"] = ev.Body
	}
	if ev.TargetEventID != 0 {
		payload["event_id"] = ev.TargetEventID
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/v1/conversations/" + conversationUUID + "/events")
	if err != nil {
		return SendResult{}, fmt.Errorf("send event request: %w", err)
	}
	if err = apiError(resp); err != nil {
		return SendResult{}, err
	}

	var out SendResult
	if err = json.Unmarshal(resp.Body(), &out); err != nil {
		return SendResult{}, fmt.Errorf("decode send response: %w", err)
	}
	return out, nil
}

func (r *restClient) InviteUser(ctx context.Context, conversationUUID, userID string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"user_id": userID, "action": "invite"}).
		Post("/v1/conversations/" + conversationUUID + "/members")
	if err != nil {
		return fmt.Errorf("invite user request: %w", err)
	}
	return apiError(resp)
}

func (r *restClient) KickMember(ctx context.Context, conversationUUID, memberID string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		Delete("/v1/conversations/" + conversationUUID + "/members/" + memberID)
	if err != nil {
		return fmt.Errorf("kick member request: %w", err)
	}
	return apiError(resp)
}

// apiError turns a non-2xx response into an *APIError, decoding the
// service's error envelope when one is present.
func apiError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	out := &APIError{Status: resp.StatusCode()}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil {
		out.Code = envelope.Code
		out.Message = envelope.Message
	} else if body := strings.TrimSpace(string(resp.Body())); body != "" {
		out.Message = body
	}
	return out
}
