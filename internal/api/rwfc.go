package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"rr-tracker/internal/config"

	"github.com/valyala/fasthttp"
)

// Client talks to the two upstream services: the room-listing API that
// publishes live room/player snapshots, and the Mii rendering API that turns
// raw Mii blobs into displayable avatars.
type Client struct {
	groupsURL string
	miiURL    string
	client    *fasthttp.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		groupsURL: cfg.APIURL,
		miiURL:    cfg.MiiAPIURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// GetGroups fetches the current room listing.
func (c *Client) GetGroups(ctx context.Context) ([]Room, error) {
	rooms, err := doRequest[[]Room](ctx, c, fasthttp.MethodGet, c.groupsURL, nil)
	if err != nil {
		return nil, err
	}
	return *rooms, nil
}

// RenderMiis posts a batch of raw Mii blobs and returns a map from raw blob
// to rendered avatar. Blobs missing from the response were not rendered.
func (c *Client) RenderMiis(ctx context.Context, raws []string) (map[string]string, error) {
	body, err := json.Marshal(raws)
	if err != nil {
		return nil, err
	}
	rendered, err := doRequest[map[string]string](ctx, c, fasthttp.MethodPost, c.miiURL, body)
	if err != nil {
		return nil, err
	}
	return *rendered, nil
}

func doRequest[T any](ctx context.Context, c *Client, method, url string, body []byte) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type Room struct {
	Type    string                `json:"type"`
	RK      string                `json:"rk"`
	Players map[string]RoomPlayer `json:"players"`
}

type RoomPlayer struct {
	PID      string   `json:"pid"`
	FC       string   `json:"fc"`
	EV       FlexInt  `json:"ev"`
	EB       *FlexInt `json:"eb"`
	Name     string   `json:"name"`
	Suspend  FlexInt  `json:"suspend"`
	OpenHost string   `json:"openhost"`
	Mii      []Mii    `json:"mii"`
}

type Mii struct {
	Data string `json:"data"`
	Name string `json:"name"`
}

// FlexInt tolerates numeric fields the upstream emits either as JSON numbers
// or as quoted strings. Empty strings and nulls decode to zero.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*n = FlexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = FlexInt(v)
	return nil
}
