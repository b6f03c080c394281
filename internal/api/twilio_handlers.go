package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// twilioWebhookHandler ingests Twilio's inbound message callback. Twilio posts
// form-encoded fields; From carries a "whatsapp:+NN" prefix that
// canonicalization strips. The route answers 404 when the WhatsApp channel is
// in use instead.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	twilioService, ok := s.msgService.(*messaging.TwilioService)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Twilio channel not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form data"))
		return
	}

	body := r.PostFormValue("Body")
	if body == "" {
		// Media-only or status callbacks carry no text to answer.
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Ignored non-text message", nil))
		return
	}
	from, err := s.msgService.ValidateAndCanonicalizeRecipient(r.PostFormValue("From"))
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid sender", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	twilioService.IngestInbound(models.Response{
		From:     from,
		FromName: r.PostFormValue("ProfileName"),
		Body:     body,
		Time:     time.Now().Unix(),
	})
	slog.Debug("Server.twilioWebhookHandler: inbound message ingested", "from", from)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
