// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"context"
	"time"
)

// =============================================================================
// Document QA Review Commands
// =============================================================================

// Review starts or queues a document QA review.
//
// The backend may admit the review immediately (status "started") or
// park it behind a concurrency limit (status "pending"). When the
// request preempts an existing pending session, ReplacedSessionID
// names the session that was displaced.
func (c *Client) Review(ctx context.Context, req ReviewRequest) (ReviewResponse, error) {
	req.IssuedAt = time.Now().UnixMilli()
	var resp ReviewResponse
	location, err := c.post(ctx, "backend.review", "/v1/review", req.SessionID, req, &resp)
	if err != nil {
		return ReviewResponse{}, err
	}
	resp.StreamLocation = location
	return resp, nil
}

// Cancel stops an in-flight review with a taxonomy reason.
func (c *Client) Cancel(ctx context.Context, req CancelRequest) error {
	_, err := c.post(ctx, "backend.cancel", "/v1/review/cancel", req.SessionID, req, nil)
	return err
}

// Retry re-queues a review on the same session lineage.
func (c *Client) Retry(ctx context.Context, req RetryRequest) (ReviewResponse, error) {
	var resp ReviewResponse
	location, err := c.post(ctx, "backend.retry", "/v1/review/retry", req.SessionID, req, &resp)
	if err != nil {
		return ReviewResponse{}, err
	}
	resp.StreamLocation = location
	return resp, nil
}
