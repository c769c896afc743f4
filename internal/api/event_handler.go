package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// maxEventBody — максимальный размер тела события.
const maxEventBody = 5 << 20

// githubEventHeader — заголовок с типом webhook-события.
const githubEventHeader = "X-GitHub-Event"

// ReceiveEvent принимает событие-триггер.
// POST /api/v1/events
//
// Тело — либо domain.Event в JSON, либо webhook платформы
// (тип события в заголовке X-GitHub-Event).
// Если событие запустило run, отвечает 202 со списком run,
// если отфильтровано — 200 с matched=false.
// При настроенном секрете тело должно быть подписано (X-Hub-Signature-256),
// иначе 401. Событие с чужим репозиторием отклоняется с 403.
func (h *Handler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}

	if h.webhookSecret != "" {
		if err := trigger.VerifySignature(h.webhookSecret, body, r.Header.Get(trigger.SignatureHeader)); err != nil {
			h.logger.Warn("event rejected", "error", err, "remote_addr", r.RemoteAddr)
			Unauthorized(w, err.Error())
			return
		}
	}

	var ev domain.Event
	if name := r.Header.Get(githubEventHeader); name != "" {
		ev, err = trigger.ParseWebhook(name, body)
		switch {
		case errors.Is(err, trigger.ErrUnsupportedEvent):
			JSON(w, http.StatusOK, DataResponse{Data: EventResponse{Matched: false, Reason: err.Error()}})
			return
		case err != nil:
			BadRequest(w, err.Error())
			return
		}
	} else if err := json.Unmarshal(body, &ev); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := trigger.CheckRepository(ev.Repository, h.repository, h.allowForeign); err != nil {
		h.logger.Warn("event rejected", "error", err, "repository", ev.Repository)
		Forbidden(w, err.Error())
		return
	}

	runs, decision, err := h.orch.HandleEvent(r.Context(), ev)
	if err != nil && len(runs) == 0 {
		h.orchestratorError(w, err)
		return
	}
	if err != nil {
		h.logger.Error("event partially handled", "error", err, "runs", len(runs))
	}

	if !decision.Matched {
		JSON(w, http.StatusOK, DataResponse{Data: EventResponse{Matched: false, Reason: decision.Reason}})
		return
	}

	Accepted(w, EventResponse{Matched: true, Runs: RunsFromDomain(runs)})
}
