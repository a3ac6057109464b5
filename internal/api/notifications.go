package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"lira/internal/labels"
	"lira/internal/services"
	"lira/pkg/models"
)

// PostNotification launches the workflow subscribed to a data store
// notification
// (POST /notifications)
func (h *Handler) PostNotification(c echo.Context) error {
	ctx := c.Request().Context()
	w := c.Response()

	var n models.Notification
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification", "Invalid request body: "+err.Error())
		return nil
	}

	result, err := h.notifier.Submit(ctx, n)
	if err != nil {
		h.respondError(c, n, err)
		return nil
	}

	body := result.Body
	if len(body) == 0 {
		if body, err = json.Marshal(result); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSONBlob(http.StatusCreated, body)
}

func (h *Handler) respondError(c echo.Context, n models.Notification, err error) {
	w := c.Response()

	var usage *labels.UsageError
	var rejected *services.SubmissionError
	switch {
	case errors.Is(err, services.ErrUnmatchedSubscription):
		// Redelivery cannot help, so the data store gets a success.
		writeJSON(w, http.StatusOK, struct{}{})
	case errors.Is(err, services.ErrInvalidNotification):
		writeError(w, http.StatusBadRequest, "Invalid notification", err.Error())
	case errors.As(err, &usage):
		writeError(w, http.StatusBadRequest, "Invalid label", err.Error())
	case errors.Is(err, services.ErrUpstreamFetch):
		h.logger.Error("upstream fetch failed", "subscription_id", n.SubscriptionID, "error", err)
		writeError(w, http.StatusBadGateway, "Upstream fetch failed", err.Error())
	case errors.As(err, &rejected):
		writeError(w, http.StatusInternalServerError, "Workflow submission failed", "Cromwell returned: "+rejected.Body)
	default:
		h.logger.Error("notification failed", "subscription_id", n.SubscriptionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
	}
}
