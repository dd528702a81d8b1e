// Package twilio implements the telephony collaborator on Twilio: REST call
// control and the Media Streams websocket bridge.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	twiliogo "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"ai-call-orchestrator-service/internal/service/telephony"
)

// Twilio error codes for calls that can no longer be modified.
const (
	codeNotFound      = 20404
	codeNotInProgress = 21220
)

// callAPI is the subset of the v2010 API service used here.
type callAPI interface {
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

type Config struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
}

// Client implements telephony.Controller.
type Client struct {
	cfg Config
	api callAPI
}

func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN required")
	}
	rc := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{cfg: cfg, api: rc.Api}, nil
}

// EndCall completes the call. Calls that are already over map to
// telephony.ErrCallNotActive.
func (c *Client) EndCall(ctx context.Context, callSid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := c.api.UpdateCall(callSid, params); err != nil {
		if notActive(err) {
			return fmt.Errorf("%w: %s", telephony.ErrCallNotActive, callSid)
		}
		return fmt.Errorf("twilio end call %s: %w", callSid, err)
	}
	log.Info().Str("callSid", callSid).Msg("Twilio call completed")
	return nil
}

// PlaceCall dials to and connects the answered call to the media stream
// endpoint. The returned call SID is the orchestrator's call ID.
func (c *Client) PlaceCall(ctx context.Context, to string, custom map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.cfg.FromNumber == "" {
		return "", fmt.Errorf("twilio: TWILIO_FROM_NUMBER required to place calls")
	}
	doc, err := StreamTwiML(c.cfg.PublicBaseURL, custom)
	if err != nil {
		return "", err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.cfg.FromNumber)
	params.SetTwiml(doc)

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("twilio create call: missing call sid")
	}
	return *resp.Sid, nil
}

// StreamTwiML renders <Connect><Stream> pointing at the media websocket.
func StreamTwiML(publicBaseURL string, custom map[string]string) (string, error) {
	if publicBaseURL == "" {
		return "", fmt.Errorf("twilio: PUBLIC_BASE_URL required for media streams")
	}
	stream := &twiml.VoiceStream{Url: MediaURL(publicBaseURL)}
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stream.InnerElements = append(stream.InnerElements, &twiml.VoiceParameter{Name: k, Value: custom[k]})
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// MediaURL turns the public HTTP base URL into the media websocket URL.
func MediaURL(publicBaseURL string) string {
	u := strings.TrimRight(publicBaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + MediaPath
}

func notActive(err error) bool {
	var restErr *twclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Code == codeNotInProgress || restErr.Code == codeNotFound || restErr.Status == 404
}
