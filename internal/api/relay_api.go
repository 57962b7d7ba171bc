package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-relay/internal/membership"
	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Relay is the application surface the HTTP layer exposes.
type Relay interface {
	GetConfig() relay.ClientConfig
	AddDevice(ctx context.Context, d membership.Device) (*membership.Result, error)
	RemoveDevice(ctx context.Context, d membership.Device) (*membership.Result, error)
	SendToUser(ctx context.Context, n relay.UserNotification) (*push.DispatchResult, error)
	SendToTopic(ctx context.Context, n relay.TopicNotification) (*push.DispatchResult, error)
	AddTopic(ctx context.Context, topicName string) (*membership.Result, error)
	RemoveTopic(ctx context.Context, topicName string) (*membership.Result, error)
	Subscribe(ctx context.Context, userID, topicName string) (*membership.Result, error)
	Unsubscribe(ctx context.Context, userID, topicName string) (*membership.Result, error)
}

type RelayAPI struct {
	Relay  Relay
	Logger *slog.Logger
}

func NewRelayAPI(r Relay, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Relay:  r,
		Logger: logger.With("component", "RelayAPI"),
	}
}

// --- Request bodies ---

type DeviceRequest struct {
	Project string `json:"project_name"`
	Site    string `json:"site_name"`
	UserID  string `json:"user_id"`
	Token   string `json:"fcm_token"`
}

type TopicRequest struct {
	TopicName string `json:"topic_name"`
}

type SubscriptionRequest struct {
	UserID    string `json:"user_id"`
	TopicName string `json:"topic_name"`
}

// data may arrive as a JSON string or as an inline object.
type sendBody struct {
	Project   string          `json:"project_name"`
	Site      string          `json:"site_name"`
	UserID    string          `json:"user_id"`
	TopicName string          `json:"topic_name"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Data      json.RawMessage `json:"data"`
}

type operationResponse struct {
	Success bool `json:"success"`
	*membership.Result
}

// Route binds one endpoint. Public routes skip authentication.
type Route struct {
	Pattern string
	Public  bool
	Handler http.HandlerFunc
}

// Routes lists every endpoint with its error handling applied.
func (api *RelayAPI) Routes() []Route {
	h := func(op string, fn handlerFunc) http.HandlerFunc {
		return wrap(op, api.Logger, fn)
	}
	return []Route{
		{Pattern: "GET /api/v1/config", Public: true, Handler: h("get_config", api.GetConfig)},
		{Pattern: "POST /api/v1/tokens/add", Handler: h("device_add", api.AddDevice)},
		{Pattern: "POST /api/v1/tokens/remove", Handler: h("device_remove", api.RemoveDevice)},
		{Pattern: "POST /api/v1/send/user", Handler: h("send_user", api.SendToUser)},
		{Pattern: "POST /api/v1/send/topic", Handler: h("send_topic", api.SendToTopic)},
		{Pattern: "POST /api/v1/topics/add", Handler: h("topic_add", api.AddTopic)},
		{Pattern: "POST /api/v1/topics/remove", Handler: h("topic_remove", api.RemoveTopic)},
		{Pattern: "POST /api/v1/topics/subscribe", Handler: h("subscribe", api.Subscribe)},
		{Pattern: "POST /api/v1/topics/unsubscribe", Handler: h("unsubscribe", api.Unsubscribe)},
	}
}

// --- Handlers ---

func (api *RelayAPI) GetConfig(w http.ResponseWriter, _ *http.Request) error {
	response.WriteJSON(w, http.StatusOK, api.Relay.GetConfig())
	return nil
}

func (api *RelayAPI) AddDevice(w http.ResponseWriter, r *http.Request) error {
	d, err := api.device(r)
	if err != nil {
		return err
	}
	return writeResult(w)(api.Relay.AddDevice(r.Context(), d))
}

func (api *RelayAPI) RemoveDevice(w http.ResponseWriter, r *http.Request) error {
	d, err := api.device(r)
	if err != nil {
		return err
	}
	return writeResult(w)(api.Relay.RemoveDevice(r.Context(), d))
}

func (api *RelayAPI) SendToUser(w http.ResponseWriter, r *http.Request) error {
	var body sendBody
	if err := decode(r, &body); err != nil {
		return err
	}
	data, err := relay.DataString(body.Data)
	if err != nil {
		return err
	}
	res, err := api.Relay.SendToUser(r.Context(), relay.UserNotification{
		Project:  body.Project,
		Site:     body.Site,
		UserID:   body.UserID,
		Title:    body.Title,
		Body:     body.Body,
		DataJSON: data,
	})
	if err != nil {
		return err
	}
	response.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (api *RelayAPI) SendToTopic(w http.ResponseWriter, r *http.Request) error {
	var body sendBody
	if err := decode(r, &body); err != nil {
		return err
	}
	data, err := relay.DataString(body.Data)
	if err != nil {
		return err
	}
	res, err := api.Relay.SendToTopic(r.Context(), relay.TopicNotification{
		TopicName: body.TopicName,
		Title:     body.Title,
		Body:      body.Body,
		DataJSON:  data,
	})
	if err != nil {
		return err
	}
	response.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (api *RelayAPI) AddTopic(w http.ResponseWriter, r *http.Request) error {
	var req TopicRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	return writeResult(w)(api.Relay.AddTopic(r.Context(), req.TopicName))
}

func (api *RelayAPI) RemoveTopic(w http.ResponseWriter, r *http.Request) error {
	var req TopicRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	return writeResult(w)(api.Relay.RemoveTopic(r.Context(), req.TopicName))
}

func (api *RelayAPI) Subscribe(w http.ResponseWriter, r *http.Request) error {
	req, err := api.subscription(r)
	if err != nil {
		return err
	}
	return writeResult(w)(api.Relay.Subscribe(r.Context(), req.UserID, req.TopicName))
}

func (api *RelayAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) error {
	req, err := api.subscription(r)
	if err != nil {
		return err
	}
	return writeResult(w)(api.Relay.Unsubscribe(r.Context(), req.UserID, req.TopicName))
}

// --- Helpers ---

// device decodes a DeviceRequest. user_id defaults to the caller's identity.
func (api *RelayAPI) device(r *http.Request) (membership.Device, error) {
	var req DeviceRequest
	if err := decode(r, &req); err != nil {
		return membership.Device{}, err
	}
	if req.UserID == "" {
		req.UserID, _ = middleware.GetUserIDFromContext(r.Context())
	}
	return membership.Device{
		Project: req.Project,
		Site:    req.Site,
		UserID:  req.UserID,
		Token:   req.Token,
	}, nil
}

func (api *RelayAPI) subscription(r *http.Request) (SubscriptionRequest, error) {
	var req SubscriptionRequest
	if err := decode(r, &req); err != nil {
		return req, err
	}
	if req.UserID == "" {
		req.UserID, _ = middleware.GetUserIDFromContext(r.Context())
	}
	return req, nil
}

func decode(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid json: %v", push.ErrInvalidInput, err)
	}
	return nil
}

func writeResult(w http.ResponseWriter) func(*membership.Result, error) error {
	return func(res *membership.Result, err error) error {
		if err != nil {
			return err
		}
		response.WriteJSON(w, http.StatusOK, operationResponse{Success: true, Result: res})
		return nil
	}
}
