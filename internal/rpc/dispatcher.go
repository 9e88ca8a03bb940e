package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/presence-relay/relay/internal/logging"
)

// Sink receives every activity start, update and stop.
type Sink interface {
	Publish(ActivityEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ActivityEvent)

func (f SinkFunc) Publish(ev ActivityEvent) { f(ev) }

// Linker validates browser actions that the relay cannot judge on its own.
// Calls run off the dispatch path and may block.
type Linker interface {
	Invite(ctx context.Context, code string) bool
	GuildTemplate(ctx context.Context, code string) bool
	DeepLink(ctx context.Context, args json.RawMessage) bool
}

// RejectLinker refuses every request.
type RejectLinker struct{}

func (RejectLinker) Invite(context.Context, string) bool            { return false }
func (RejectLinker) GuildTemplate(context.Context, string) bool     { return false }
func (RejectLinker) DeepLink(context.Context, json.RawMessage) bool { return false }

// Dispatcher interprets commands from any transport or from the scanner.
// Handle never blocks on a Linker; those calls complete asynchronously and
// each produces exactly one reply.
type Dispatcher struct {
	sink   Sink
	linker Linker
	now    func() time.Time
	log    zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu      sync.Mutex
	lastPID map[string]int
}

func NewDispatcher(sink Sink, linker Linker) *Dispatcher {
	if linker == nil {
		linker = RejectLinker{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sink:    sink,
		linker:  linker,
		now:     time.Now,
		log:     logging.For("dispatch"),
		ctx:     ctx,
		cancel:  cancel,
		lastPID: make(map[string]int),
	}
}

// Connected greets a connection that has just become ready.
func (d *Dispatcher) Connected(c Conn) {
	c.Send(readyResponse())
	d.log.Debug().Str("socket", c.ID()).Str("client", c.ClientID()).Msg("connection ready")
}

// Closed ends whatever activity the connection last reported.
func (d *Dispatcher) Closed(c Conn) {
	d.mu.Lock()
	pid, ok := d.lastPID[c.ID()]
	delete(d.lastPID, c.ID())
	d.mu.Unlock()

	ev := ActivityEvent{SocketID: c.ID()}
	if ok {
		ev.PID = &pid
	}
	d.publish(ev)
}

// Handle processes one normalized request from c. Unknown commands are
// ignored.
func (d *Dispatcher) Handle(c Conn, req Request) {
	d.log.Debug().Str("socket", c.ID()).Str("cmd", req.Cmd).RawJSON("args", rawOrNull(req.Args)).Msg("message")

	switch req.Cmd {
	case CmdSetActivity:
		d.setActivity(c, req)
	case CmdConnectionsCallback:
		c.Send(Response{Cmd: req.Cmd, Data: map[string]any{"code": codeConnectionsCallback}, Evt: evtError, Nonce: req.Nonce})
	case CmdInviteBrowser:
		d.invite(c, req, true)
	case CmdGuildTemplateBrowser:
		d.invite(c, req, false)
	case CmdDeepLink:
		d.deepLink(c, req)
	}
}

// Shutdown cancels outstanding Linker calls and waits for their replies.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.pending.Wait()
}

type setActivityArgs struct {
	PID      *int            `json:"pid"`
	Activity json.RawMessage `json:"activity"`
}

func (d *Dispatcher) setActivity(c Conn, req Request) {
	var args setActivityArgs
	if err := unmarshalArgs(req.Args, &args); err != nil {
		d.log.Warn().Err(err).Str("socket", c.ID()).Msg("dropping malformed SET_ACTIVITY")
		return
	}

	activityJSON := bytes.TrimSpace(args.Activity)
	if len(activityJSON) == 0 || bytes.Equal(activityJSON, []byte("null")) {
		// The remembered pid survives so a later close still names it.
		c.Send(Response{Cmd: req.Cmd, Data: nil, Nonce: req.Nonce})
		d.publish(ActivityEvent{PID: args.PID, SocketID: c.ID()})
		return
	}

	var activity map[string]any
	dec := json.NewDecoder(bytes.NewReader(activityJSON))
	dec.UseNumber()
	if err := dec.Decode(&activity); err != nil || activity == nil {
		d.log.Warn().Err(err).Str("socket", c.ID()).Msg("dropping SET_ACTIVITY with non-object activity")
		return
	}

	if args.PID != nil {
		d.mu.Lock()
		d.lastPID[c.ID()] = *args.PID
		d.mu.Unlock()
	}

	event, reply := normalizeActivity(activity, c.ClientID(), d.now())
	d.publish(ActivityEvent{Activity: event, PID: args.PID, SocketID: c.ID()})
	c.Send(Response{Cmd: req.Cmd, Data: reply, Nonce: req.Nonce})
}

func (d *Dispatcher) invite(c Conn, req Request, isInvite bool) {
	var args struct {
		Code string `json:"code"`
	}
	if err := unmarshalArgs(req.Args, &args); err != nil {
		d.log.Warn().Err(err).Str("cmd", req.Cmd).Msg("dropping malformed request")
		return
	}

	cmd, kind, failCode := CmdGuildTemplateBrowser, "guild template", codeInvalidTemplate
	validate := d.linker.GuildTemplate
	if isInvite {
		cmd, kind, failCode = CmdInviteBrowser, "invite", codeInvalidInvite
		validate = d.linker.Invite
	}

	d.async(func(ctx context.Context) bool {
		return validate(ctx, args.Code)
	}, func(ok bool) {
		if ok {
			c.Send(Response{Cmd: cmd, Data: map[string]any{"code": args.Code}, Nonce: req.Nonce})
			return
		}
		c.Send(Response{
			Cmd: cmd,
			Data: map[string]any{
				"code":    failCode,
				"message": fmt.Sprintf("Invalid %s id: %s", kind, args.Code),
			},
			Evt:   evtError,
			Nonce: req.Nonce,
		})
	})
}

func (d *Dispatcher) deepLink(c Conn, req Request) {
	var args struct {
		Type string `json:"type"`
	}
	if err := unmarshalArgs(req.Args, &args); err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed DEEP_LINK")
		return
	}

	reply := func(ok bool) {
		if ok {
			c.Send(Response{Cmd: req.Cmd, Data: nil, Nonce: req.Nonce})
			return
		}
		c.Send(Response{Cmd: req.Cmd, Data: map[string]any{"code": codeDeepLinkRejected}, Evt: evtError, Nonce: req.Nonce})
	}

	if args.Type == "SHOP" || args.Type == "FEATURES" {
		reply(false)
		return
	}
	d.async(func(ctx context.Context) bool {
		return d.linker.DeepLink(ctx, req.Args)
	}, reply)
}

func (d *Dispatcher) async(call func(context.Context) bool, reply func(bool)) {
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		ok := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().Interface("panic", r).Msg("linker panicked")
				}
			}()
			ok = call(d.ctx)
		}()
		reply(ok)
	}()
}

func (d *Dispatcher) publish(ev ActivityEvent) {
	if d.sink == nil {
		return
	}
	d.sink.Publish(ev)
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
