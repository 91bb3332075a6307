package chat

import (
	"context"
	"log/slog"
)

// Chain sends to Primary and, when it fails for any reason, to Secondary.
// Replies from Primary without a _via marker are stamped with Via.
type Chain struct {
	Primary   Endpoint
	Secondary Endpoint
	Via       string
}

func (c *Chain) Send(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Primary.Send(ctx, req)
	if err == nil {
		if resp.Via == "" {
			resp.Via = c.Via
		}
		return resp, nil
	}
	if c.Secondary == nil || ctx.Err() != nil {
		return Response{}, err
	}
	slog.Warn("chat: primary endpoint failed, using secondary", "via", c.Via, "error", err)
	return c.Secondary.Send(ctx, req)
}
