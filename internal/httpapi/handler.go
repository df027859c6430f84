// Package httpapi exposes the sync engine's control and query surface
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/index"
	"github.com/nhle/mailsync/internal/manager"
	"github.com/nhle/mailsync/internal/model"
)

// SyncController is the slice of the session manager the handlers
// need.
type SyncController interface {
	StartOne(ctx context.Context, accountID string) error
	StopOne(accountID string)
	Status() []model.ConnectionStatus
	IsConnected(accountID string) bool
	Accounts() []model.Account
}

// MessageIndex is the slice of the message store the handlers need.
type MessageIndex interface {
	Search(ctx context.Context, f index.SearchFilter) ([]model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	Update(ctx context.Context, id string, fields index.UpdateFields) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*index.Stats, error)
	Ping(ctx context.Context) error
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Handler wires the HTTP routes to the manager and the index.
type Handler struct {
	sync SyncController
	idx  MessageIndex
	log  *logrus.Logger

	// runCtx is the process lifetime context. Sessions started over
	// HTTP must outlive the request that started them.
	runCtx context.Context
}

// NewHandler builds the handler set.
func NewHandler(
	runCtx context.Context,
	sync SyncController,
	idx MessageIndex,
	log *logrus.Logger,
) *Handler {
	return &Handler{sync: sync, idx: idx, log: log, runCtx: runCtx}
}

// Health reports process liveness and index reachability.
func (h *Handler) Health(c *fiber.Ctx) error {
	indexStatus := "ok"
	if err := h.idx.Ping(c.Context()); err != nil {
		h.log.WithError(err).Warn("index ping failed")
		indexStatus = "unreachable"
	}
	return c.JSON(APIResponse{
		Success: true,
		Data: fiber.Map{
			"status": "ok",
			"index":  indexStatus,
		},
	})
}

// SyncStatus returns the per-account session snapshot.
func (h *Handler) SyncStatus(c *fiber.Ctx) error {
	statuses := h.sync.Status()
	return c.JSON(APIResponse{
		Success: true,
		Data: fiber.Map{
			"accounts": statuses,
			"count":    len(statuses),
		},
	})
}

// Connections reports connection state for every registered account,
// including accounts that were never started.
func (h *Handler) Connections(c *fiber.Ctx) error {
	accounts := h.sync.Accounts()
	connections := make([]model.ConnectionStatus, 0, len(accounts))
	for _, a := range accounts {
		connections = append(connections, model.ConnectionStatus{
			AccountID: a.ID,
			Connected: h.sync.IsConnected(a.ID),
		})
	}
	return c.JSON(APIResponse{Success: true, Data: connections})
}

// StartSync starts (or restarts) one account's session.
func (h *Handler) StartSync(c *fiber.Ctx) error {
	accountID := c.Params("accountId")

	if err := h.sync.StartOne(h.runCtx, accountID); err != nil {
		if manager.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(APIResponse{
				Success: false,
				Error:   "account not found",
			})
		}
		h.log.WithError(err).WithField("account", accountID).Error("starting sync")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "failed to start sync",
		})
	}

	return c.JSON(APIResponse{
		Success: true,
		Message: "sync started for " + accountID,
	})
}

// StopSync stops one account's session. Stopping an unknown or
// already-stopped account still succeeds.
func (h *Handler) StopSync(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	h.sync.StopOne(accountID)
	return c.JSON(APIResponse{
		Success: true,
		Message: "sync stopped for " + accountID,
	})
}

// SearchEmails runs a filtered search over the index.
func (h *Handler) SearchEmails(c *fiber.Ctx) error {
	f := index.SearchFilter{
		Query:     c.Query("q"),
		AccountID: c.Query("accountId"),
		Folder:    c.Query("folder"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(APIResponse{
				Success: false,
				Error:   "invalid limit",
			})
		}
		f.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(APIResponse{
				Success: false,
				Error:   "invalid offset",
			})
		}
		f.Offset = n
	}

	msgs, err := h.idx.Search(c.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("searching emails")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "search failed",
		})
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return c.JSON(APIResponse{
		Success: true,
		Data: fiber.Map{
			"emails": msgs,
			"count":  len(msgs),
		},
	})
}

// emailUpdate is the accepted partial-update body. Absent fields are
// left untouched.
type emailUpdate struct {
	IsRead    *bool    `json:"isRead"`
	IsStarred *bool    `json:"isStarred"`
	Folder    *string  `json:"folder"`
	Flags     []string `json:"flags"`
}

// UpdateEmail applies a partial update to one message and returns the
// updated record.
func (h *Handler) UpdateEmail(c *fiber.Ctx) error {
	id := c.Params("id")

	var body emailUpdate
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(APIResponse{
			Success: false,
			Error:   "invalid request body",
		})
	}

	fields := index.UpdateFields{
		IsRead:    body.IsRead,
		IsStarred: body.IsStarred,
		Folder:    body.Folder,
		Flags:     body.Flags,
	}
	if err := h.idx.Update(c.Context(), id, fields); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(APIResponse{
				Success: false,
				Error:   "email not found",
			})
		}
		h.log.WithError(err).WithField("id", id).Error("updating email")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "update failed",
		})
	}

	msg, err := h.idx.Get(c.Context(), id)
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("reloading updated email")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "update failed",
		})
	}
	return c.JSON(APIResponse{Success: true, Data: msg, Message: "email updated"})
}

// DeleteEmail removes a message from the index. Deleting an unknown ID
// still succeeds.
func (h *Handler) DeleteEmail(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.idx.Delete(c.Context(), id); err != nil {
		h.log.WithError(err).WithField("id", id).Error("deleting email")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "delete failed",
		})
	}
	return c.JSON(APIResponse{Success: true, Message: "email deleted"})
}

// EmailStats reports message counts, overall and per account.
func (h *Handler) EmailStats(c *fiber.Ctx) error {
	stats, err := h.idx.Stats(c.Context())
	if err != nil {
		h.log.WithError(err).Error("computing email stats")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "stats failed",
		})
	}
	return c.JSON(APIResponse{Success: true, Data: stats})
}

// GetEmail returns a single message by its index ID.
func (h *Handler) GetEmail(c *fiber.Ctx) error {
	id := c.Params("id")

	msg, err := h.idx.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(APIResponse{
				Success: false,
				Error:   "email not found",
			})
		}
		h.log.WithError(err).WithField("id", id).Error("getting email")
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Error:   "lookup failed",
		})
	}

	return c.JSON(APIResponse{Success: true, Data: msg})
}
