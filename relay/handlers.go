package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mbocsi/gorover/proto"
)

// ---------- device link ---------- //

func (c *Coordinator) HandleDeviceMessage(client Client, data []byte) {
	frame, err := proto.Decode(data)
	if err != nil {
		slog.Warn("Invalid frame from device", "sender", client.Meta().Id, "error", err.Error(), "data", string(data))
		c.Metrics.DroppedFrames.WithLabelValues("protocol").Inc()
		return
	}

	switch {
	case frame.Response != nil:
		c.Correlator.Resolve(*frame.Response)

	case frame.Event != nil:
		c.handleEvent(*frame.Event)

	default:
		slog.Warn("Device sent a command frame, ignoring", "sender", client.Meta().Id, "command", frame.Command.Command)
		c.Metrics.DroppedFrames.WithLabelValues("unexpected_command").Inc()
	}
}

func (c *Coordinator) handleEvent(ev proto.Event) {
	c.Metrics.DeviceEvents.WithLabelValues(ev.Event).Inc()
	sent := c.Broadcaster.Broadcast(proto.EventFrame{
		Type:      proto.ObserverEvent,
		Event:     ev.Event,
		Data:      ev.Data,
		Timestamp: time.Now().UTC(),
	})
	slog.Debug("Event forwarded", "event", ev.Event, "observers", sent)

	for _, sink := range c.Sinks {
		if err := sink.Publish(ev); err != nil {
			slog.Warn("Event sink publish failed", "event", ev.Event, "error", err.Error())
		}
	}
}

// ---------- observers ---------- //

func (c *Coordinator) HandleObserverMessage(client Client, data []byte) {
	var msg proto.ObserverInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Invalid JSON from observer", "sender", client.Meta().Id, "error", err.Error())
		c.Metrics.DroppedFrames.WithLabelValues("protocol").Inc()
		return
	}

	switch msg.Type {
	case proto.ObserverCommand:
		c.handleManualCommand(client, msg)
	case proto.ObserverChat:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		go c.handleChat(text)
	default:
		slog.Warn("Unhandled observer message type", "type", msg.Type, "sender", client.Meta().Id)
	}
}

// handleManualCommand takes the low latency path: nobody waits for the device's
// answer. Only a failure to send is reported back, to the sender alone.
func (c *Coordinator) handleManualCommand(client Client, msg proto.ObserverInbound) {
	res, err := c.Correlator.Send(c.ctx, msg.Command, msg.Params, proto.FireAndForget)
	if err == nil {
		slog.Debug("Manual command forwarded", "id", res.ID, "command", msg.Command, "sender", client.Meta().Id)
		return
	}
	slog.Warn("Manual command not sent", "command", msg.Command, "error", err.Error())
	client.Send(proto.CommandResultFrame{
		Type:      proto.ObserverCommandResult,
		Command:   msg.Command,
		OK:        false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (c *Coordinator) handleChat(text string) {
	c.broadcastChat("user", text)

	if c.Assistant == nil {
		c.broadcastChat("assistant", "The assistant is not enabled on this relay.")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.chatTimeout)
	defer cancel()

	reply, err := c.Assistant.Respond(ctx, text)
	if len(reply.Actions) > 0 {
		now := time.Now().UTC()
		c.Broadcaster.Broadcast(proto.ActionsFrame{Type: proto.ObserverActions, Actions: reply.Actions, Timestamp: now})
		for _, act := range reply.Actions {
			c.Broadcaster.Broadcast(proto.CommandResultFrame{
				Type:      proto.ObserverCommandResult,
				Command:   act.Command,
				OK:        act.OK,
				Data:      act.Result,
				Error:     act.Error,
				Timestamp: now,
			})
		}
	}
	if err != nil {
		slog.Error("Assistant failed", "error", err.Error())
		c.broadcastChat("assistant", "Sorry, something went wrong: "+err.Error())
		return
	}
	c.broadcastChat("assistant", reply.Text)
}

func (c *Coordinator) broadcastChat(role, text string) {
	c.Broadcaster.Broadcast(proto.ChatFrame{
		Type:      proto.ObserverChat,
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}
