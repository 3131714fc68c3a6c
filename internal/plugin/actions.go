package plugin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

// ActionsHandler is the HTTP surface plugins call back into: actions
// reference an in-flight query by id and act through its adapter.
type ActionsHandler struct {
	logger *slog.Logger
	pool   *pipeline.Pool
}

// NewActionsHandler builds the handler over the query pool.
func NewActionsHandler(logger *slog.Logger, pool *pipeline.Pool) *ActionsHandler {
	return &ActionsHandler{
		logger: logger.With(slog.String("component", "plugin-actions")),
		pool:   pool,
	}
}

func (h *ActionsHandler) Register(e *echo.Echo) {
	e.POST("/plugin/actions", h.Handle)
}

type actionRequest struct {
	QueryID string `json:"query_id"`
	Action  string `json:"action"`
	Content string `json:"content"`
}

type actionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handle executes one plugin action. Unknown query ids are an error
// action response, not an HTTP failure, so the runtime can tell the
// two apart.
func (h *ActionsHandler) Handle(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q, ok := h.pool.Get(strings.TrimSpace(req.QueryID))
	if !ok {
		return c.JSON(http.StatusOK, actionResponse{Error: "query not found"})
	}

	switch req.Action {
	case "send_message":
		if q.Adapter == nil || q.MessageEvent == nil {
			return c.JSON(http.StatusOK, actionResponse{Error: "query has no reply route"})
		}
		chain := message.Of(message.Text{Text: req.Content})
		if err := q.Adapter.ReplyMessage(c.Request().Context(), q.MessageEvent, chain, false); err != nil {
			h.logger.Warn("plugin reply failed", slog.String("query_id", q.ID), slog.Any("error", err))
			return c.JSON(http.StatusOK, actionResponse{Error: "send failed"})
		}
		return c.JSON(http.StatusOK, actionResponse{OK: true})
	case "set_variable":
		// Content is "key=value"; plugins use it to steer later stages.
		key, value, found := strings.Cut(req.Content, "=")
		if !found || strings.TrimSpace(key) == "" {
			return c.JSON(http.StatusOK, actionResponse{Error: "content must be key=value"})
		}
		q.Variables[strings.TrimSpace(key)] = value
		return c.JSON(http.StatusOK, actionResponse{OK: true})
	default:
		return c.JSON(http.StatusOK, actionResponse{Error: "unknown action"})
	}
}
