package mediator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rustyeddy/sprinkler/broker"
	"github.com/rustyeddy/sprinkler/registry"
	"github.com/rustyeddy/sprinkler/rpc"
)

// Router is the mediator's bridge: it holds a local broker, a remote
// broker, and a local RPC Engine, and wires the topic-shape rules between
// them. Every handler below runs in isolation from the others: each logs
// its own errors and returns, so an error in one never aborts the rest of
// the subscription set. Panics are not recovered.
type Router struct {
	Local       broker.Client
	Remote      broker.Client
	Engine      *rpc.Engine
	Registry    *registry.Store
	CloudPrefix string
	Events      *EventLog

	unsubscribe []func() error
}

// NewRouter wires a Router from its collaborators. Events is a fresh
// 256-entry ring buffer.
func NewRouter(local, remote broker.Client, engine *rpc.Engine, reg *registry.Store, cloudPrefix string) *Router {
	return &Router{
		Local:       local,
		Remote:      remote,
		Engine:      engine,
		Registry:    reg,
		CloudPrefix: cloudPrefix,
		Events:      NewEventLog(256),
	}
}

// Start subscribes every handler on both brokers. It is not safe to call
// twice on the same Router.
func (r *Router) Start(ctx context.Context) error {
	if err := r.subscribeLocal(ctx); err != nil {
		return err
	}
	if err := r.subscribeRemote(ctx); err != nil {
		return err
	}
	return nil
}

// Stop unsubscribes every handler registered by Start.
func (r *Router) Stop() {
	for _, unsub := range r.unsubscribe {
		if err := unsub(); err != nil {
			slog.Warn("mediator: unsubscribe failed", "error", err)
		}
	}
	r.unsubscribe = nil
}

func (r *Router) track(unsub func() error, err error) error {
	if err != nil {
		return err
	}
	r.unsubscribe = append(r.unsubscribe, unsub)
	return nil
}

func (r *Router) subscribeLocal(ctx context.Context) error {
	if err := r.track(r.Local.Subscribe(ctx, AnnounceTopic, r.handleAnnounce(ctx))); err != nil {
		return err
	}

	for _, base := range statusBases {
		if err := r.track(r.Local.Subscribe(ctx, statusFilter(base), r.handleStatusForward(ctx))); err != nil {
			return err
		}
	}

	for _, base := range responseBases {
		if err := r.track(r.Local.Subscribe(ctx, responseFilter(base), r.handleResponseForward(ctx))); err != nil {
			return err
		}
	}

	return nil
}

func (r *Router) subscribeRemote(ctx context.Context) error {
	if err := r.track(r.Remote.Subscribe(ctx, devicesGetTopic(r.CloudPrefix), r.handleDevicesGet(ctx))); err != nil {
		return err
	}

	for _, filter := range commandFilters(r.CloudPrefix) {
		if err := r.track(r.Remote.Subscribe(ctx, filter, r.handleCommand(ctx))); err != nil {
			return err
		}
	}

	return nil
}

// handleAnnounce upserts the announcement into the registry (triggering an
// async save so the broker delivery path never blocks on disk I/O) and
// forwards the raw payload upstream on the same fixed topic.
func (r *Router) handleAnnounce(ctx context.Context) broker.Handler {
	return func(m broker.Message) {
		var ann registry.Announcement
		if err := json.Unmarshal(m.Payload, &ann); err != nil {
			slog.Warn("mediator: malformed announcement", "error", err)
			return
		}

		if ann.ID() != "" {
			if err := r.Registry.Upsert(ann); err != nil {
				slog.Warn("mediator: registry upsert failed", "error", err)
			} else {
				go func() {
					if err := r.Registry.Save(); err != nil {
						slog.Warn("mediator: registry save failed", "error", err)
					}
				}()
			}
		}

		if err := r.Remote.Publish(ctx, AnnounceTopic, m.Payload); err != nil {
			slog.Warn("mediator: forward announce failed", "error", err)
		}
	}
}

// handleStatusForward mirrors a local status message upstream on the
// identical topic, with no prefix and no transformation.
func (r *Router) handleStatusForward(ctx context.Context) broker.Handler {
	return func(m broker.Message) {
		if err := r.Remote.Publish(ctx, m.Topic, m.Payload); err != nil {
			slog.Warn("mediator: forward status failed", "topic", m.Topic, "error", err)
		}
	}
}

// handleResponseForward mirrors a local RPC response upstream under the
// cloud prefix, preserving the request id embedded in the topic.
func (r *Router) handleResponseForward(ctx context.Context) broker.Handler {
	return func(m broker.Message) {
		upstream := r.CloudPrefix + "/" + m.Topic
		if err := r.Remote.Publish(ctx, upstream, m.Payload); err != nil {
			slog.Warn("mediator: forward response failed", "topic", m.Topic, "error", err)
		}
	}
}

// handleDevicesGet answers a registry query with the full device list.
func (r *Router) handleDevicesGet(ctx context.Context) broker.Handler {
	return func(m broker.Message) {
		var env rpc.Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			slog.Warn("mediator: malformed devices/get request", "error", err)
			return
		}
		requestID := env.RequestID
		if requestID == "" {
			requestID = "noid"
		}

		body, err := json.Marshal(rpc.Envelope{RequestID: requestID, Result: r.Registry.List()})
		if err != nil {
			slog.Warn("mediator: marshal devices/get response failed", "error", err)
			return
		}

		topic := devicesResponseTopic(r.CloudPrefix, requestID)
		if err := r.Remote.Publish(ctx, topic, body); err != nil {
			slog.Warn("mediator: publish devices/get response failed", "error", err)
		}
	}
}

// handleCommand dispatches an inbound remote command as a local RPC call.
// It runs dispatch on its own goroutine so a slow device never stalls the
// remote broker's delivery path for other commands.
func (r *Router) handleCommand(ctx context.Context) broker.Handler {
	return func(m broker.Message) {
		go r.dispatchCommand(ctx, m)
	}
}

func (r *Router) dispatchCommand(ctx context.Context, m broker.Message) {
	r.Events.Record(Event{Topic: m.Topic, State: StateReceived})

	deviceID, methodPath, ok := parseCommand(m.Topic)
	if !ok {
		slog.Warn("mediator: command topic too short", "topic", m.Topic)
		return
	}

	r.Events.Record(Event{Topic: m.Topic, DeviceID: deviceID, State: StateParsing})

	var env rpc.Envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		slog.Warn("mediator: malformed command payload, dropping", "topic", m.Topic, "error", err)
		return
	}

	requestID := env.RequestID
	if requestID == "" {
		requestID = "noid"
	}

	base := methodBase(methodPath)

	r.Events.Record(Event{RequestID: requestID, Topic: m.Topic, DeviceID: deviceID, State: StateDispatching})

	result, err := r.Engine.Call(ctx, deviceID, methodPath, env.Params)

	var resp rpc.Envelope
	resp.RequestID = requestID
	if err != nil {
		resp.Error = err.Error()
		r.Events.Record(Event{RequestID: requestID, Topic: m.Topic, DeviceID: deviceID, State: StateFailed, Detail: err.Error()})
	} else {
		resp.Result = result
		r.Events.Record(Event{RequestID: requestID, Topic: m.Topic, DeviceID: deviceID, State: StateCompleted})
	}

	body, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		slog.Warn("mediator: marshal command response failed", "error", marshalErr)
		return
	}

	topic := responseTopicFor(r.CloudPrefix, deviceID, base, requestID)
	if pubErr := r.Remote.Publish(ctx, topic, body); pubErr != nil {
		slog.Warn("mediator: publish command response failed", "topic", topic, "error", pubErr)
		return
	}

	r.Events.Record(Event{RequestID: requestID, Topic: topic, DeviceID: deviceID, State: StatePublished})
}

// methodBase returns the first segment of a method path, matching the rpc
// package's own base derivation (baseOf).
func methodBase(methodPath string) string {
	for i, c := range methodPath {
		if c == '/' {
			return methodPath[:i]
		}
	}
	return methodPath
}
