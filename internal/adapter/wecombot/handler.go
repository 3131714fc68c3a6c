package wecombot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wirebotio/wirebot/internal/codec"
)

// CallbackPath is where the platform delivers verification GETs and
// message POSTs.
const CallbackPath = "/wecombot/callback"

// Handler terminates the callback HTTP surface for one adapter.
type Handler struct {
	logger  *slog.Logger
	adapter *Adapter
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, a *Adapter) *Handler {
	return &Handler{
		logger:  logger.With(slog.String("component", "wecombot-handler")),
		adapter: a,
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET(CallbackPath, h.Verify)
	e.POST(CallbackPath, h.Callback)
}

// Verify answers the URL ownership handshake.
func (h *Handler) Verify(c echo.Context) error {
	plain, err := h.adapter.codec.VerifyURL(
		c.QueryParam("msg_signature"),
		c.QueryParam("timestamp"),
		c.QueryParam("nonce"),
		c.QueryParam("echostr"),
	)
	if err != nil {
		h.logger.Warn("url verification failed", slog.Any("error", err))
		return c.NoContent(http.StatusForbidden)
	}
	return c.String(http.StatusOK, plain)
}

type encryptedBody struct {
	Encrypt string `json:"encrypt"`
}

// Callback handles both first POSTs and stream polls.
func (h *Handler) Callback(c echo.Context) error {
	var body encryptedBody
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.Encrypt) == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	plain, err := h.adapter.codec.Decrypt(
		body.Encrypt,
		c.QueryParam("msg_signature"),
		c.QueryParam("timestamp"),
		c.QueryParam("nonce"),
	)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrSignatureInvalid):
			return c.NoContent(http.StatusForbidden)
		default:
			h.logger.Warn("callback decrypt failed", slog.Any("error", err))
			return c.NoContent(http.StatusBadRequest)
		}
	}

	var msg inboundMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		h.logger.Warn("callback payload unparseable", slog.Any("error", err))
		return c.NoContent(http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	var reply streamReply
	if msg.Stream != nil {
		reply = h.adapter.handlePoll(ctx, msg.Stream.ID)
	} else {
		if msg.MsgID == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		reply = h.adapter.handleFirst(ctx, &msg)
	}

	envelope, err := h.encryptReply(reply, c.QueryParam("nonce"))
	if err != nil {
		h.logger.Error("reply encryption failed", slog.Any("error", err))
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, envelope)
}

func (h *Handler) encryptReply(reply streamReply, nonce string) (codec.Envelope, error) {
	plain, err := json.Marshal(reply)
	if err != nil {
		return codec.Envelope{}, err
	}
	ts := fmt.Sprintf("%d", time.Now().Unix())
	return h.adapter.codec.Encrypt(plain, nonce, ts)
}
