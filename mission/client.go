// Package mission reconciles layer output against a TAK Mission's feature
// set and talks to the Mission API through a bridge service.
package mission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/c360/takstreams/errors"
)

// Options carries per-call Mission API settings
type Options struct {
	Token string `json:"token,omitempty"`
}

// Contents identifies mission content by uid or by file hash
type Contents struct {
	UIDs   []string `json:"uids,omitempty"`
	Hashes []string `json:"hashes,omitempty"`
}

// Content identifies a single mission item
type Content struct {
	UID  string `json:"uid,omitempty"`
	Hash string `json:"hash,omitempty"`
}

// Client is the subset of the Mission API the pipeline uses
type Client interface {
	LatestFeats(ctx context.Context, mission string, opts Options) ([]*geojson.Feature, error)
	AttachContents(ctx context.Context, mission string, contents Contents, opts Options) error
	DetachContents(ctx context.Context, mission string, content Content, opts Options) error
}

// Requester sends a request and waits for one reply. natsclient.Client satisfies it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Subjects answered by the Mission bridge
const (
	SubjectLatestFeats = "tak.mission.latest_feats"
	SubjectAttach      = "tak.mission.attach"
	SubjectDetach      = "tak.mission.detach"
)

type request struct {
	Mission  string    `json:"mission"`
	Token    string    `json:"token,omitempty"`
	Contents *Contents `json:"contents,omitempty"`
	Content  *Content  `json:"content,omitempty"`
}

type response struct {
	Error    string                     `json:"error,omitempty"`
	Features *geojson.FeatureCollection `json:"features,omitempty"`
}

// NATSClient implements Client over NATS request/reply
type NATSClient struct {
	nc Requester
}

// NewNATSClient creates a Mission client that sends requests through nc
func NewNATSClient(nc Requester) *NATSClient {
	return &NATSClient{nc: nc}
}

// LatestFeats returns the mission's current features
func (c *NATSClient) LatestFeats(ctx context.Context, mission string, opts Options) ([]*geojson.Feature, error) {
	resp, err := c.call(ctx, SubjectLatestFeats, request{Mission: mission, Token: opts.Token}, "LatestFeats")
	if err != nil {
		return nil, err
	}
	if resp.Features == nil {
		return nil, nil
	}
	return resp.Features.Features, nil
}

// AttachContents attaches existing content to the mission
func (c *NATSClient) AttachContents(ctx context.Context, mission string, contents Contents, opts Options) error {
	_, err := c.call(ctx, SubjectAttach, request{Mission: mission, Token: opts.Token, Contents: &contents}, "AttachContents")
	return err
}

// DetachContents removes one item from the mission
func (c *NATSClient) DetachContents(ctx context.Context, mission string, content Content, opts Options) error {
	_, err := c.call(ctx, SubjectDetach, request{Mission: mission, Token: opts.Token, Content: &content}, "DetachContents")
	return err
}

func (c *NATSClient) call(ctx context.Context, subject string, req request, method string) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WrapInvalid(err, "MissionClient", method, "encode request")
	}

	raw, err := c.nc.Request(ctx, subject, body)
	if err != nil {
		return nil, errors.WrapTransient(err, "MissionClient", method, "request "+subject)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.WrapTransient(err, "MissionClient", method, "decode response")
	}
	if resp.Error != "" {
		return nil, errors.WrapTransient(fmt.Errorf("mission %s: %s", req.Mission, resp.Error),
			"MissionClient", method, "mission api")
	}
	return &resp, nil
}
