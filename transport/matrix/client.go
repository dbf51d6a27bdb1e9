// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// client performs client-server API requests for one access token.
// An empty token makes unauthenticated requests (login).
type client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	userID     string
	deviceID   string
}

// do sends body (JSON-encoded when non-nil) and decodes a 2xx response
// into result (when non-nil). Other statuses return *Error.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	var request *http.Request
	var err error
	if reader != nil {
		request, err = http.NewRequestWithContext(ctx, method, requestURL, reader)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, requestURL, nil)
	}
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var matrixErr Error
		if json.Unmarshal(data, &matrixErr) != nil || matrixErr.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, response.StatusCode, truncate(data))
		}
		matrixErr.StatusCode = response.StatusCode
		return &matrixErr
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func truncate(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

func (c *client) login(ctx context.Context, account, password, deviceName string) (*loginResponse, error) {
	request := loginRequest{
		Type:                     "m.login.password",
		Identifier:               userIdentifier{Type: "m.id.user", User: account},
		Password:                 password,
		InitialDeviceDisplayName: deviceName,
	}
	var response loginResponse
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, request, &response); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &response, nil
}

func (c *client) logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/logout", nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *client) sync(ctx context.Context, since string, timeoutMilliseconds int64, filter string) (*syncResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	query.Set("timeout", strconv.FormatInt(timeoutMilliseconds, 10))
	if filter != "" {
		query.Set("filter", filter)
	}
	var response syncResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil, &response); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return &response, nil
}

func (c *client) sendMessage(ctx context.Context, roomID, transactionID string, content messageContent) (string, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/send/m.room.message/" + url.PathEscape(transactionID)
	var response eventIDResponse
	if err := c.do(ctx, http.MethodPut, path, nil, content, &response); err != nil {
		return "", fmt.Errorf("send to %s: %w", roomID, err)
	}
	return response.EventID, nil
}

func (c *client) createRoom(ctx context.Context, request createRoomRequest) (string, error) {
	var response struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", nil, request, &response); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return response.RoomID, nil
}

func (c *client) joinRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

func (c *client) roomAction(ctx context.Context, roomID, action string, body any) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/" + action
	if body == nil {
		body = struct{}{}
	}
	if err := c.do(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("%s %s: %w", action, roomID, err)
	}
	return nil
}

func (c *client) stateEvent(ctx context.Context, roomID, eventType string, result any) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/state/" + url.PathEscape(eventType) + "/"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, result); err != nil {
		return fmt.Errorf("read %s in %s: %w", eventType, roomID, err)
	}
	return nil
}

func (c *client) putStateEvent(ctx context.Context, roomID, eventType string, content any) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/state/" + url.PathEscape(eventType) + "/"
	if err := c.do(ctx, http.MethodPut, path, nil, content, nil); err != nil {
		return fmt.Errorf("write %s in %s: %w", eventType, roomID, err)
	}
	return nil
}

func (c *client) roomState(ctx context.Context, roomID string) ([]event, error) {
	var events []event
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/state"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &events); err != nil {
		return nil, fmt.Errorf("state of %s: %w", roomID, err)
	}
	return events, nil
}

func (c *client) roomMessages(ctx context.Context, roomID, from string, limit int) (*messagesResponse, error) {
	query := url.Values{}
	query.Set("dir", "b")
	query.Set("limit", strconv.Itoa(limit))
	if from != "" {
		query.Set("from", from)
	}
	var response messagesResponse
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &response); err != nil {
		return nil, fmt.Errorf("messages of %s: %w", roomID, err)
	}
	return &response, nil
}

// eventContext returns the pagination token immediately before eventID.
func (c *client) eventContext(ctx context.Context, roomID, eventID string) (string, error) {
	query := url.Values{}
	query.Set("limit", "0")
	var response struct {
		Start string `json:"start"`
	}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/context/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodGet, path, query, nil, &response); err != nil {
		return "", fmt.Errorf("context of %s: %w", eventID, err)
	}
	return response.Start, nil
}

// eventBefore returns the id of the last event at or before timestamp.
func (c *client) eventBefore(ctx context.Context, roomID string, timestampMilliseconds int64) (string, error) {
	query := url.Values{}
	query.Set("ts", strconv.FormatInt(timestampMilliseconds, 10))
	query.Set("dir", "b")
	var response eventIDResponse
	path := "/_matrix/client/v1/rooms/" + url.PathEscape(roomID) + "/timestamp_to_event"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &response); err != nil {
		return "", fmt.Errorf("timestamp lookup in %s: %w", roomID, err)
	}
	return response.EventID, nil
}

func (c *client) profileField(ctx context.Context, userID, field string) (string, error) {
	var response map[string]any
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID) + "/" + field
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &response); err != nil {
		return "", fmt.Errorf("profile %s of %s: %w", field, userID, err)
	}
	value, _ := response[field].(string)
	return value, nil
}

func (c *client) setPresence(ctx context.Context, presence string) error {
	path := "/_matrix/client/v3/presence/" + url.PathEscape(c.userID) + "/status"
	if err := c.do(ctx, http.MethodPut, path, nil, map[string]string{"presence": presence}, nil); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (c *client) putAccountData(ctx context.Context, eventType string, content any) error {
	path := "/_matrix/client/v3/user/" + url.PathEscape(c.userID) + "/account_data/" + url.PathEscape(eventType)
	if err := c.do(ctx, http.MethodPut, path, nil, content, nil); err != nil {
		return fmt.Errorf("write account data %s: %w", eventType, err)
	}
	return nil
}

// tag adds (set) or removes a room tag.
func (c *client) tag(ctx context.Context, roomID, tag string, set bool) error {
	path := "/_matrix/client/v3/user/" + url.PathEscape(c.userID) + "/rooms/" + url.PathEscape(roomID) + "/tags/" + url.PathEscape(tag)
	method, body := http.MethodDelete, any(nil)
	if set {
		method, body = http.MethodPut, struct{}{}
	}
	if err := c.do(ctx, method, path, nil, body, nil); err != nil {
		return fmt.Errorf("tag %s on %s: %w", tag, roomID, err)
	}
	return nil
}
