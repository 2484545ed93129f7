package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/render"

	"greencycle/internal/domain"
)

const maxWebhookBody = 64 << 10

// pickupHook is the body the data service posts when a pickup row changes
// outside this process.
type pickupHook struct {
	UserID   string `json:"user_id" validate:"required"`
	PickupID string `json:"pickup_id" validate:"required"`
	Kind     string `json:"kind" validate:"required,oneof=insert update delete"`
}

// handlePickupHook verifies the HMAC signature and republishes the change to
// connected widgets.
func (w *Web) handlePickupHook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		renderError(rw, r, http.StatusBadRequest, "invalid request body")
		return
	}

	sig := r.Header.Get("X-Signature")
	if sig == "" {
		renderError(rw, r, http.StatusUnauthorized, "missing signature")
		return
	}
	if !verifyHMAC(body, w.webhookSecret, sig) {
		renderError(rw, r, http.StatusForbidden, "invalid signature")
		return
	}

	var hook pickupHook
	if err := json.Unmarshal(body, &hook); err != nil {
		renderError(rw, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := w.validate.Struct(hook); err != nil {
		renderError(rw, r, http.StatusBadRequest, err.Error())
		return
	}

	w.logger.Info("pickup webhook received", "user_id", hook.UserID, "pickup_id", hook.PickupID, "kind", hook.Kind)
	w.pickups.PublishPickupChange(domain.PickupChange{UserID: hook.UserID, PickupID: hook.PickupID, Kind: hook.Kind})

	render.Status(r, http.StatusAccepted)
	render.JSON(rw, r, map[string]string{"status": "accepted"})
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
