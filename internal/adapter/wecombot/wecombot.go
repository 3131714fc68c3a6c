// Package wecombot implements the streaming-callback adapter: the
// platform delivers one user message as a first POST plus a series of
// poll POSTs, and replies flow back as stream chunks drained by those
// polls.
package wecombot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/codec"
	"github.com/wirebotio/wirebot/internal/config"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/stream"
)

// Name is the platform identifier this adapter registers under.
const Name = "wecombot"

// redeliveryThreshold caps how many first-POST redeliveries get a
// stream header before the adapter answers with a final empty chunk to
// stop the platform's retry.
const redeliveryThreshold = 3

// streamRef is the opaque reply route stored on each emitted event.
type streamRef struct {
	StreamID string
	MsgID    string
}

// Adapter bridges the callback protocol to the pipeline. Inbound HTTP
// is handled by Handler; the adapter owns the stream registry and the
// event conversion.
type Adapter struct {
	logger    *slog.Logger
	cfg       config.WeComBotConfig
	codec     codec.Codec
	streams   *stream.Registry
	listeners adapter.Listeners

	stopped chan struct{}
}

// New builds the adapter. The codec is injected so tests can swap the
// crypto for a plaintext fake.
func New(logger *slog.Logger, cfg config.WeComBotConfig, c codec.Codec) *Adapter {
	ttl := time.Duration(cfg.SessionTTLSec) * time.Second
	return &Adapter{
		logger:  logger.With(slog.String("component", "adapter"), slog.String("platform", Name)),
		cfg:     cfg,
		codec:   c,
		streams: stream.NewRegistry(logger, ttl, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return Name }

// RegisterListener implements adapter.Adapter.
func (a *Adapter) RegisterListener(kind event.Kind, fn adapter.Listener) {
	a.listeners.Register(kind, fn)
}

// StreamOutputSupported implements adapter.Adapter. Replies reach the
// platform incrementally through the poll queue.
func (a *Adapter) StreamOutputSupported() bool { return true }

// Streams exposes the session registry for the periodic cleanup sweep.
func (a *Adapter) Streams() *stream.Registry { return a.streams }

// PollTimeout is how long a poll POST waits for a chunk.
func (a *Adapter) PollTimeout() time.Duration {
	if a.cfg.PollTimeoutMS <= 0 {
		return time.Duration(config.DefaultPollTimeoutMS) * time.Millisecond
	}
	return time.Duration(a.cfg.PollTimeoutMS) * time.Millisecond
}

// ReplyMessage implements adapter.Adapter: the full reply becomes a
// single final chunk on the event's stream.
func (a *Adapter) ReplyMessage(ctx context.Context, ev *event.Event, chain message.Chain, _ bool) error {
	ref, ok := ev.PlatformRef.(*streamRef)
	if !ok {
		return fmt.Errorf("%w: event has no stream reference", adapter.ErrSendFailed)
	}
	chunk := stream.Chunk{Content: renderChain(chain), IsFinal: true}
	if !a.streams.Publish(ctx, ref.StreamID, chunk) {
		return fmt.Errorf("%w: stream %s is gone", adapter.ErrSendFailed, ref.StreamID)
	}
	return nil
}

// ReplyMessageChunk implements adapter.Adapter.
func (a *Adapter) ReplyMessageChunk(ctx context.Context, ev *event.Event, _ adapter.MessageMeta, chain message.Chain, _ bool, isFinal bool) error {
	ref, ok := ev.PlatformRef.(*streamRef)
	if !ok {
		return fmt.Errorf("%w: event has no stream reference", adapter.ErrSendFailed)
	}
	chunk := stream.Chunk{Content: renderChain(chain), IsFinal: isFinal}
	if !a.streams.Publish(ctx, ref.StreamID, chunk) {
		return fmt.Errorf("%w: stream %s is gone", adapter.ErrSendFailed, ref.StreamID)
	}
	return nil
}

// SendMessage implements adapter.Adapter. The callback protocol has no
// out-of-band push; replies only flow through an inbound stream.
func (a *Adapter) SendMessage(context.Context, adapter.TargetType, string, message.Chain) error {
	return fmt.Errorf("%w: platform does not support out-of-band push", adapter.ErrSendFailed)
}

// Run implements adapter.Adapter. Inbound traffic arrives over the
// shared HTTP server, so the loop only parks until shutdown.
func (a *Adapter) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-a.stopped:
	}
	return nil
}

// Kill implements adapter.Adapter.
func (a *Adapter) Kill(context.Context) error {
	select {
	case <-a.stopped:
	default:
		close(a.stopped)
	}
	return nil
}

// handleFirst processes a first POST: dedup by msg id, create the
// session, schedule the pipeline once, and return the stream header.
func (a *Adapter) handleFirst(ctx context.Context, msg *inboundMessage) streamReply {
	a.streams.Cleanup()

	info := stream.MsgInfo{MsgID: msg.MsgID, ChatID: msg.ChatID, UserID: msg.From.UserID}
	s, isNew, deliveries := a.streams.CreateOrGet(info)

	if !isNew {
		if deliveries > redeliveryThreshold {
			a.logger.Warn("redelivery threshold exceeded", slog.String("msg_id", msg.MsgID))
			return finalEmptyReply(s.StreamID)
		}
		// Redelivered within TTL: same header, no second pipeline run.
		return headerReply(s.StreamID)
	}

	ev, err := a.toEvent(ctx, msg, s.StreamID)
	if err != nil {
		a.logger.Error("event conversion failed", slog.String("msg_id", msg.MsgID), slog.Any("error", err))
		a.streams.MarkFinished(s.StreamID)
		return finalEmptyReply(s.StreamID)
	}

	// The pipeline runs detached from the HTTP request so the header
	// goes out immediately. Shutdown still bounds it via a.stopped.
	go func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			select {
			case <-a.stopped:
				cancel()
			case <-runCtx.Done():
			}
		}()
		a.listeners.Emit(runCtx, ev)
	}()

	return headerReply(s.StreamID)
}

// handlePoll drains the next chunk for a poll POST.
func (a *Adapter) handlePoll(ctx context.Context, streamID string) streamReply {
	if streamID == "" {
		return finalEmptyReply("")
	}
	if _, ok := a.streams.Get(streamID); !ok {
		return finalEmptyReply(streamID)
	}
	chunk, ok := a.streams.Consume(ctx, streamID, a.PollTimeout())
	if !ok {
		// Queue empty and not finished: keep the platform polling.
		return streamReply{MsgType: "stream", Stream: streamBody{ID: streamID}}
	}
	return streamReply{MsgType: "stream", Stream: streamBody{
		ID:      streamID,
		Finish:  chunk.IsFinal,
		Content: chunk.Content,
	}}
}

func headerReply(streamID string) streamReply {
	return streamReply{MsgType: "stream", Stream: streamBody{ID: streamID}}
}

func finalEmptyReply(streamID string) streamReply {
	return streamReply{MsgType: "stream", Stream: streamBody{ID: streamID, Finish: true}}
}
