package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Business endpoints. These read the bearer token from the session store and
// report 401 responses through the unauthorized callback.

// Channel is a Telegram channel tracked by the workspace.
type Channel struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	Subscribers int64  `json:"subscribers"`
}

// Overview aggregates a channel's metrics over a period such as "7d".
type Overview struct {
	ChannelID       string  `json:"channel_id"`
	Period          string  `json:"period"`
	Subscribers     int64   `json:"subscribers"`
	SubscriberDelta int64   `json:"subscriber_delta"`
	Views           int64   `json:"views"`
	Posts           int     `json:"posts"`
	EngagementRate  float64 `json:"engagement_rate"`
}

// Alert is a metric threshold notification rule.
type Alert struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Direction string  `json:"direction"`
	Enabled   bool    `json:"enabled"`
}

// AlertInput is the payload for creating an alert rule.
type AlertInput struct {
	ChannelID string  `json:"channel_id"`
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Direction string  `json:"direction"`
}

// Channels lists the channels the current user can see.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	bearer, err := c.storedAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Channels]")
	}

	var out []Channel
	err = c.do(ctx, request{
		method:             http.MethodGet,
		path:               "/channels",
		out:                &out,
		bearer:             bearer,
		notifyUnauthorized: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Channels]")
	}
	return out, nil
}

// ChannelOverview fetches aggregated metrics for one channel. An empty
// period uses the backend default.
func (c *Client) ChannelOverview(ctx context.Context, channelID, period string) (*Overview, error) {
	path := fmt.Sprintf("/channels/%s/overview", url.PathEscape(channelID))
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}

	bearer, err := c.storedAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ChannelOverview]")
	}

	var out Overview
	err = c.do(ctx, request{
		method:             http.MethodGet,
		path:               path,
		out:                &out,
		bearer:             bearer,
		notifyUnauthorized: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ChannelOverview]")
	}
	return &out, nil
}

// Alerts lists the workspace's alert rules.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	bearer, err := c.storedAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Alerts]")
	}

	var out []Alert
	err = c.do(ctx, request{
		method:             http.MethodGet,
		path:               "/alerts",
		out:                &out,
		bearer:             bearer,
		notifyUnauthorized: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Alerts]")
	}
	return out, nil
}

// CreateAlert registers a new alert rule and returns it as stored.
func (c *Client) CreateAlert(ctx context.Context, input AlertInput) (*Alert, error) {
	bearer, err := c.storedAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.CreateAlert]")
	}

	var out Alert
	err = c.do(ctx, request{
		method:             http.MethodPost,
		path:               "/alerts",
		payload:            input,
		out:                &out,
		bearer:             bearer,
		notifyUnauthorized: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.CreateAlert]")
	}
	return &out, nil
}
