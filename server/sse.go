package main

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flowchain"
	"go.uber.org/zap"
)

// flowUIEvents streams flow UI change notifications for one work request as
// Server-Sent Events. Each frame is the broadcast JSON under "event: flow-ui";
// clients re-fetch state on receipt.
//
//	event: flow-ui
//	data: {"workRequestId":15,"actorUserId":7,"syncedAtEpochMs":1700000000000}
func (h *handlers) flowUIEvents(c fiber.Ctx) error {
	id, err := workRequestID(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.CheckAccess(c.Context(), callerOf(c), id); err != nil {
		return h.fail(c, err)
	}

	// The stream writer runs after the handler returns, so the subscription
	// cannot hang off the request context.
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := h.events.Subscribe(ctx, flowchain.FlowUITopic(id))
	if err != nil {
		cancel()
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	logger := h.logger.With(zap.Int64("work_request_id", id), zap.Int64("user_id", callerOf(c).UserID))
	heartbeat := h.heartbeat

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		logger.Debug("flow ui stream opened")
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: flow-ui\ndata: %s\n\n", msg)
			case <-ticker.C:
				fmt.Fprint(w, ": heartbeat\n\n")
			}
			if err := w.Flush(); err != nil {
				// Client went away.
				logger.Debug("flow ui stream closed", zap.Error(err))
				return
			}
		}
	})
}
