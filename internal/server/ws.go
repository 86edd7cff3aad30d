package server

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Hien110/ecare-signaling/internal/hub"
	"github.com/Hien110/ecare-signaling/internal/models"
	"github.com/Hien110/ecare-signaling/internal/push"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
)

// AlertRaisePayload is what a device sends when the SOS button fires.
// Recipients is the ordered contact list to ring one at a time.
type AlertRaisePayload struct {
	models.AlertEvent
	Recipients []string `json:"recipients"`
}

func (h *Handlers) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := hub.NewClient(conn, userID)
	h.hub.Add(client)
	h.logger.Info("ws connected", "user_id", userID)

	go h.writePump(client)
	h.readPump(client)
}

func (h *Handlers) readPump(client *hub.Client) {
	conn := client.Conn()
	defer func() {
		_ = conn.Close()
		h.hub.Remove(client)
		h.logger.Info("ws disconnected", "user_id", client.UserID())
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.Debug("bad frame", "user_id", client.UserID(), "error", err)
			continue
		}

		h.route(client.UserID(), env)
	}
}

func (h *Handlers) writePump(client *hub.Client) {
	conn := client.Conn()
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// route relays one inbound signaling event. Errors are logged, never
// fatal to the read loop.
func (h *Handlers) route(fromUserID string, env models.Envelope) {
	switch env.Type {
	case models.EventCallRequest:
		h.routeCallRequest(fromUserID, env.Data)

	case models.EventCallRinging:
		h.forwardToPeer(fromUserID, env)

	case models.EventCallAccepted:
		if id := signalCallID(env.Data); id != "" {
			if err := h.registry.Activate(id); err != nil {
				h.logger.Debug("accept for dead ring", "call_id", id)
			}
		}
		h.forwardToPeer(fromUserID, env)

	case models.EventCallRejected, models.EventCallEnded:
		id := signalCallID(env.Data)
		h.forwardToPeer(fromUserID, env)
		h.registry.Resolve(id)

	case models.EventCallCancelled:
		id := signalCallID(env.Data)
		ring, err := h.registry.GetRing(id)
		h.forwardToPeer(fromUserID, env)
		h.registry.Resolve(id)
		if err == nil {
			// The callee may only have the push notification; tell that
			// channel the ring is gone too.
			h.SendPush(ring.Peer(fromUserID), push.Payload{Type: push.TypeCallCancelled, CallID: id})
		}

	case models.EventCallStatus:
		id := signalCallID(env.Data)
		h.send(fromUserID, models.Envelope{
			Type: models.EventCallStatus,
			Data: models.MustMarshal(models.CallStatusPayload{CallID: id, Live: h.registry.RingLive(id)}),
		})

	case models.EventAlertStatus:
		var q models.AlertStatusPayload
		_ = json.Unmarshal(env.Data, &q)
		h.send(fromUserID, models.Envelope{
			Type: models.EventAlertStatus,
			Data: models.MustMarshal(models.AlertStatusPayload{AlertID: q.AlertID, Live: h.registry.AlertLive(q.AlertID)}),
		})

	case models.EventAlertRaised:
		h.routeAlertRaised(fromUserID, env.Data)

	case models.EventAlertDeclined:
		var sig models.CallSignal
		_ = json.Unmarshal(env.Data, &sig)
		h.routeAlertDeclined(sig.CallID)

	case models.EventAlertResolved:
		var alert models.AlertEvent
		_ = json.Unmarshal(env.Data, &alert)
		h.routeAlertResolved(alert)

	case models.EventWellnessAck:
		h.logger.Info("wellness ack", "user_id", fromUserID)

	default:
		h.logger.Debug("unhandled event", "type", env.Type, "user_id", fromUserID)
	}
}

func (h *Handlers) routeCallRequest(callerID string, data json.RawMessage) {
	var req models.CallRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("bad call request", "user_id", callerID, "error", err)
		return
	}

	var caller User
	if err := h.db.Where("id = ?", callerID).First(&caller).Error; err != nil {
		h.logger.Warn("call request from unknown user", "user_id", callerID)
		return
	}

	h.registry.AddRing(req.CallID, callerID, req.Callee.ID, req.Kind)
	h.logger.Info("ringing callee", "call_id", req.CallID, "caller", callerID, "callee", req.Callee.ID)

	ring := models.RingPayload{
		CallID:         req.CallID,
		ConversationID: req.ConversationID,
		Kind:           req.Kind,
		Caller: models.PeerSnapshot{
			ID:        caller.ID,
			Name:      caller.Name,
			Phone:     caller.Phone,
			AvatarURL: caller.AvatarURL,
		},
		Emergency: req.Emergency,
	}

	delivered := h.send(req.Callee.ID, models.Envelope{
		Type: models.EventCallRing,
		Data: models.MustMarshal(ring),
	})
	if !delivered {
		h.logger.Info("callee offline, push only", "call_id", req.CallID)
	}

	// Push goes out regardless: the callee's socket may belong to a
	// backgrounded app that will never surface the in-app UI. The
	// device-side suppressor collapses the two deliveries.
	pushType := push.TypeDirectCall
	if req.Kind == models.CallKindEmergency {
		pushType = push.TypeEmergencyCall
	}
	h.SendPush(req.Callee.ID, push.Payload{
		Type:           pushType,
		CallID:         req.CallID,
		ConversationID: req.ConversationID,
		Peer:           ring.Caller,
		Emergency:      req.Emergency,
	})
}

func (h *Handlers) routeAlertRaised(requesterID string, data json.RawMessage) {
	var raise AlertRaisePayload
	if err := json.Unmarshal(data, &raise); err != nil {
		h.logger.Warn("bad alert payload", "user_id", requesterID, "error", err)
		return
	}
	if len(raise.Recipients) == 0 {
		h.logger.Warn("alert with no recipients dropped", "user_id", requesterID)
		return
	}

	var requester User
	if err := h.db.Where("id = ?", requesterID).First(&requester).Error; err != nil {
		return
	}

	event := raise.AlertEvent
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.RequesterID = requesterID
	event.Requester = models.PeerSnapshot{
		ID:        requester.ID,
		Name:      requester.Name,
		Phone:     requester.Phone,
		AvatarURL: requester.AvatarURL,
	}
	event.CreatedAt = time.Now()

	h.registry.AddAlert(event, raise.Recipients)
	h.logger.Info("alert raised", "alert_id", event.ID, "requester", requesterID, "recipients", len(raise.Recipients))
	h.notifyAlertRecipient(raise.Recipients[0], event)
}

func (h *Handlers) routeAlertDeclined(alertID string) {
	alert, err := h.registry.GetAlert(alertID)
	if err != nil {
		return
	}

	next := h.registry.AdvanceAlert(alertID)
	if next != "" {
		h.logger.Info("alert advancing to next recipient", "alert_id", alertID, "recipient", next)
		h.notifyAlertRecipient(next, alert.Event)
		return
	}

	h.logger.Info("alert exhausted all recipients", "alert_id", alertID)
	h.registry.ResolveAlert(alertID)
	h.send(alert.Event.RequesterID, models.Envelope{
		Type: models.EventAlertResolved,
		Data: models.MustMarshal(alert.Event),
	})
}

func (h *Handlers) routeAlertResolved(event models.AlertEvent) {
	alert, err := h.registry.GetAlert(event.ID)
	h.registry.ResolveAlert(event.ID)
	if err != nil {
		return
	}

	// Withdraw the alert from the recipient currently being rung.
	if alert.NextIdx < len(alert.Recipients) {
		recipient := alert.Recipients[alert.NextIdx]
		h.send(recipient, models.Envelope{
			Type: models.EventAlertResolved,
			Data: models.MustMarshal(alert.Event),
		})
		h.SendPush(recipient, push.Payload{Type: push.TypeAlertResolved, AlertID: event.ID})
	}
}

func (h *Handlers) notifyAlertRecipient(recipientID string, event models.AlertEvent) {
	h.send(recipientID, models.Envelope{
		Type: models.EventAlertRaised,
		Data: models.MustMarshal(event),
	})
	h.SendPush(recipientID, push.Payload{
		Type:     push.TypeEmergencyCall,
		AlertID:  event.ID,
		Peer:     event.Requester,
		Location: event.Location,
		Message:  event.Message,
	})
}

// forwardToPeer relays a call event to the other participant.
func (h *Handlers) forwardToPeer(fromUserID string, env models.Envelope) {
	id := signalCallID(env.Data)
	ring, err := h.registry.GetRing(id)
	if err != nil {
		h.logger.Debug("event for unknown call dropped", "type", env.Type, "call_id", id)
		return
	}
	env.From = fromUserID
	h.send(ring.Peer(fromUserID), env)
}

func (h *Handlers) send(userID string, env models.Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return h.hub.SendTo(userID, payload)
}

func signalCallID(data json.RawMessage) string {
	var sig models.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return ""
	}
	return sig.CallID
}
