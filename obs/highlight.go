package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/highlight-relay/telemetry"
)

// requestStatus code returned by obs-websocket when the named input does
// not exist.
const codeResourceNotFound = 600

// MessageEvent is a flagged chat line as produced by the chat observer.
// The client validates only its shape, not its provenance.
type MessageEvent struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

// Highlight pushes a flagged message to the configured target browser
// source. It fetches the source's current settings, rewrites the URL query
// string to carry the payload, pushes the update, and refreshes the source.
// All steps must succeed; the first failure aborts the operation and is
// returned. A missing or misconfigured target yields a *TargetError before
// any update is issued.
func (c *Client) Highlight(ctx context.Context, ev MessageEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "highlight-relay/obs", "obs.highlight")
	defer span.End()

	hs, err := c.settings.HighlightSettings(ctx)
	if err != nil {
		err = fmt.Errorf("read highlight settings: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	span.SetAttributes(attribute.String("obs.target", hs.Target))

	err = c.highlight(ctx, hs, ev)
	telemetry.IncHighlights(err == nil)
	telemetry.RecordError(span, err)
	return err
}

func (c *Client) highlight(ctx context.Context, hs HighlightSettings, ev MessageEvent) error {
	resp, err := c.Request(ctx, "GetInputSettings", map[string]any{"inputName": hs.Target})
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && re.Code == codeResourceNotFound {
			return &TargetError{Target: hs.Target, Reason: "no such input in the current scene collection"}
		}
		return fmt.Errorf("fetch target settings: %w", err)
	}

	var settings struct {
		InputSettings struct {
			URL string `json:"url"`
		} `json:"inputSettings"`
	}
	if err := json.Unmarshal(resp, &settings); err != nil {
		return fmt.Errorf("decode target settings: %w", err)
	}
	if settings.InputSettings.URL == "" {
		return &TargetError{Target: hs.Target, Reason: "no url configured"}
	}

	u, err := url.Parse(settings.InputSettings.URL)
	if err != nil {
		return &TargetError{Target: hs.Target, Reason: "configured url is not parseable"}
	}
	q := u.Query()
	q.Set("username", ev.Username)
	q.Set("message", ev.Message)
	q.Set("color", ev.Color)
	q.Set("timestamp", ev.Timestamp.UTC().Format(time.RFC3339))
	q.Set("duration", strconv.Itoa(int(hs.Duration/time.Second)))
	u.RawQuery = q.Encode()

	_, err = c.Request(ctx, "SetInputSettings", map[string]any{
		"inputName": hs.Target,
		"inputSettings": map[string]any{
			"url": u.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("push target settings: %w", err)
	}

	_, err = c.Request(ctx, "PressInputPropertiesButton", map[string]any{
		"inputName":    hs.Target,
		"propertyName": "refreshnocache",
	})
	if err != nil {
		return fmt.Errorf("refresh target: %w", err)
	}
	return nil
}
