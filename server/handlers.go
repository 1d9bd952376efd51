package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/realtime"
	"go.uber.org/zap"
)

const (
	headerUserID = "X-User-ID"
	headerTeamID = "X-Team-ID"
	callerKey    = "flowchain.caller"
)

type handlers struct {
	svc       *flowchain.Service
	events    realtime.Subscriber
	logger    *zap.Logger
	heartbeat time.Duration
}

// requireCaller resolves the identity headers into a flowchain.Caller.
func requireCaller(c fiber.Ctx) error {
	userID, uerr := strconv.ParseInt(c.Get(headerUserID), 10, 64)
	teamID, terr := strconv.ParseInt(c.Get(headerTeamID), 10, 64)
	if uerr != nil || terr != nil || userID <= 0 || teamID <= 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"kind":  "UNAUTHORIZED",
			"error": "X-User-ID and X-Team-ID headers are required",
		})
	}
	c.Locals(callerKey, flowchain.Caller{UserID: userID, TeamID: teamID})
	return c.Next()
}

func callerOf(c fiber.Ctx) flowchain.Caller {
	caller, _ := c.Locals(callerKey).(flowchain.Caller)
	return caller
}

// workRequestID parses :id. Non-numeric ids cannot name a work request, so
// they are reported as not found.
func workRequestID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, flowchain.ErrNotFound
	}
	return id, nil
}

func (h *handlers) getFlowChain(c fiber.Ctx) error {
	id, err := workRequestID(c)
	if err != nil {
		return h.fail(c, err)
	}
	chain, err := h.svc.GetFlowChain(c.Context(), callerOf(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(chain)
}

type itemResponse struct {
	NodeID     string             `json:"nodeId"`
	EntityID   int64              `json:"entityId"`
	NodeType   flowchain.NodeType `json:"nodeType"`
	DocNo      string             `json:"docNo"`
	Title      string             `json:"title"`
	Status     string             `json:"status"`
	EdgeID     string             `json:"edgeId"`
	EdgeSource string             `json:"edgeSource"`
	EdgeTarget string             `json:"edgeTarget"`
}

func (h *handlers) createFlowItem(c fiber.Ctx) error {
	id, err := workRequestID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req flowchain.ItemRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badBody(c)
	}
	frag, err := h.svc.CreateFlowItem(c.Context(), callerOf(c), id, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(itemResponse{
		NodeID:     frag.Node.ID,
		EntityID:   frag.Node.EntityID,
		NodeType:   frag.Node.NodeType,
		DocNo:      frag.Node.DocNo,
		Title:      frag.Node.Title,
		Status:     frag.Node.Status,
		EdgeID:     frag.Edge.ID,
		EdgeSource: frag.Edge.Source,
		EdgeTarget: frag.Edge.Target,
	})
}

type layoutResponse struct {
	Version     int64                         `json:"version"`
	Positions   map[string]flowchain.Position `json:"positions"`
	Edges       []flowchain.Edge              `json:"edges"`
	CustomNodes []flowchain.Node              `json:"customNodes"`
	UpdatedAt   *time.Time                    `json:"updatedAt,omitempty"`
}

func (h *handlers) getFlowUI(c fiber.Ctx) error {
	id, err := workRequestID(c)
	if err != nil {
		return h.fail(c, err)
	}
	l, err := h.svc.GetFlowUIState(c.Context(), callerOf(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	resp := layoutResponse{
		Version:     l.Version,
		Positions:   l.Positions,
		Edges:       l.Edges,
		CustomNodes: l.CustomNodes,
	}
	if !l.UpdatedAt.IsZero() {
		resp.UpdatedAt = &l.UpdatedAt
	}
	return c.JSON(resp)
}

func (h *handlers) saveFlowUI(c fiber.Ctx) error {
	id, err := workRequestID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req flowchain.SaveLayoutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badBody(c)
	}
	if _, err := h.svc.SaveFlowUIState(c.Context(), callerOf(c), id, req); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func badBody(c fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"kind": "BAD_REQUEST", "error": "invalid body"})
}

// fail maps service errors onto status codes and the {kind, error} body.
func (h *handlers) fail(c fiber.Ctx, err error) error {
	var conflict *flowchain.ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"kind":           "CONFLICT",
			"error":          "flow layout was changed by another session",
			"currentVersion": conflict.Current,
		})
	case errors.Is(err, flowchain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"kind": "NOT_FOUND", "error": err.Error()})
	case errors.Is(err, flowchain.ErrBadRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"kind": "BAD_REQUEST", "error": err.Error()})
	case errors.Is(err, flowchain.ErrUnlinkedArtifact):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"kind":  "PARTIAL_CREATE",
			"error": "item was created but could not be linked into the flow chain",
		})
	case errors.Is(err, realtime.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"kind": "UNAVAILABLE", "error": err.Error()})
	}
	h.logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"kind": "INTERNAL", "error": "internal error"})
}
