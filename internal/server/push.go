package server

import (
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"github.com/Hien110/ecare-signaling/internal/push"
)

type PushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type PushSubscribeRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     PushSubscribeKeys `json:"keys" binding:"required"`
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.cfg.VAPID.PublicKey})
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	userID := c.GetString("user_id")

	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// One subscription per user: the device re-subscribes on login.
	if err := h.db.Where("user_id = ?", userID).Delete(&PushSubscription{}).Error; err != nil {
		h.logger.Warn("deleting old subscriptions failed", "user_id", userID, "error", err)
	}

	sub := PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if err := h.db.Create(&sub).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}

	h.logger.Info("push subscription created", "user_id", userID)
	c.JSON(http.StatusCreated, sub)
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	userID := c.GetString("user_id")

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.db.Where("user_id = ? AND endpoint = ?", userID, req.Endpoint).Delete(&PushSubscription{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

// SendPush delivers a payload to every subscription of the user. Gone
// endpoints (410/404) are pruned.
func (h *Handlers) SendPush(userID string, payload push.Payload) {
	if h.cfg.VAPID.PublicKey == "" || h.cfg.VAPID.PrivateKey == "" {
		h.logger.Debug("push skipped, VAPID keys not configured", "user_id", userID)
		return
	}

	var subs []PushSubscription
	if err := h.db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		h.logger.Error("querying subscriptions failed", "user_id", userID, "error", err)
		return
	}
	if len(subs) == 0 {
		h.logger.Debug("no push subscriptions", "user_id", userID)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal push payload failed", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      h.cfg.VAPID.Subject,
			VAPIDPublicKey:  h.cfg.VAPID.PublicKey,
			VAPIDPrivateKey: h.cfg.VAPID.PrivateKey,
			TTL:             30,
			Urgency:         webpush.UrgencyHigh,
		})
		if err != nil {
			h.logger.Warn("push send failed", "user_id", userID, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			h.logger.Info("pruning dead subscription", "user_id", userID, "status", resp.StatusCode)
			h.db.Delete(&sub)
		}
		_ = resp.Body.Close()
	}
}
