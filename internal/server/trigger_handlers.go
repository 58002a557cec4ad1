package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/kestrelhq/kestrel/internal/event"
)

// manualTriggerRequest invokes a manual_action playbook by name.
type manualTriggerRequest struct {
	ActionName   string         `json:"action_name"`
	ActionParams map[string]any `json:"action_params,omitempty"`
}

// findingSummary is the per-finding slice of the manual trigger response.
type findingSummary struct {
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Failure  bool   `json:"failure,omitempty"`
}

// handleManualTrigger runs the named action chain synchronously and returns
// the action response or the accumulated finding summary. Action failures
// still return 200; the failure shows up in the summary.
func (s *Server) handleManualTrigger(c *fiber.Ctx) error {
	var req manualTriggerRequest
	if err := c.BodyParser(&req); err != nil {
		return SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ActionName == "" {
		return SendError(c, fiber.StatusBadRequest, "action_name is required")
	}

	ev := &event.Manual{
		Meta:    event.NewMeta(),
		Name:    req.ActionName,
		Payload: req.ActionParams,
	}
	bases := s.pipeline.Process(c.Context(), ev)
	if len(bases) == 0 {
		return SendError(c, fiber.StatusNotFound, "no playbook matched action "+req.ActionName)
	}

	var response any
	var summary []findingSummary
	for _, base := range bases {
		if response == nil && base.Response != nil {
			response = base.Response
		}
		for _, f := range base.Findings {
			summary = append(summary, findingSummary{
				Title:    f.Title,
				Severity: string(f.Severity),
				Failure:  f.Failure,
			})
		}
	}
	if response != nil {
		return SendSuccess(c, fiber.StatusOK, fiber.Map{"response": response})
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"findings": summary})
}

// callbackRequest wraps a signed payload. Signature is a hex HMAC-SHA256 of
// the raw payload string under the process signing key.
type callbackRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type callbackPayload struct {
	ActionName string            `json:"action_name"`
	Params     map[string]any    `json:"action_params,omitempty"`
	Subject    map[string]string `json:"subject,omitempty"`
}

// handleCallback verifies the payload signature and feeds a callback event
// into the pipeline. Signature mismatches are rejected with 401.
func (s *Server) handleCallback(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		return SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Payload == "" || req.Signature == "" {
		return SendError(c, fiber.StatusBadRequest, "payload and signature are required")
	}

	if !s.verifySignature(req.Payload, req.Signature) {
		s.log.Warn("rejected callback with bad signature")
		return SendError(c, fiber.StatusUnauthorized, "signature mismatch")
	}

	var payload callbackPayload
	if err := json.Unmarshal([]byte(req.Payload), &payload); err != nil {
		return SendError(c, fiber.StatusBadRequest, "invalid callback payload")
	}
	if payload.ActionName == "" {
		return SendError(c, fiber.StatusBadRequest, "callback payload has no action_name")
	}

	ev := &event.Callback{
		Meta:       event.NewMeta(),
		ActionName: payload.ActionName,
		Params:     payload.Params,
		Subject:    payload.Subject,
	}
	if !s.pipeline.TryEnqueue(ev) {
		return SendError(c, fiber.StatusServiceUnavailable, "event queue saturated")
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"accepted": true})
}

func (s *Server) verifySignature(payload, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.signingKey))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the signature a caller must attach to a callback
// payload. Exposed so actions can mint callback URLs.
func SignPayload(signingKey, payload string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
