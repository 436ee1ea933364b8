package api

import (
	"net/http"
	"strconv"

	"flowtrack/internal/pubsub"
)

type FactsResponse struct {
	Channel string               `json:"channel"`
	Events  []pubsub.StreamEvent `json:"events"`
}

// replayFacts returns stream events after ?since, or after the consumer's
// acknowledged sequence when ?consumer is given without ?since.
func (d Dependencies) replayFacts(w http.ResponseWriter, r *http.Request) {
	if d.Streams == nil {
		WriteError(w, http.StatusNotImplemented, "replay_unavailable", "Fact replay requires Redis", d.Log)
		return
	}

	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "channel is required", d.Log)
		return
	}

	var since int64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			WriteError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer", d.Log)
			return
		}
		since = v
	} else if consumer := q.Get("consumer"); consumer != "" {
		last, err := d.Streams.GetLastSequence(r.Context(), channel, consumer)
		if err != nil {
			d.writeServiceError(w, "replay_facts", err)
			return
		}
		since = last
	}

	var limit int64
	if l := q.Get("limit"); l != "" {
		v, err := strconv.ParseInt(l, 10, 64)
		if err != nil || v <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be positive", d.Log)
			return
		}
		limit = v
	}

	events, err := d.Streams.ReplayEvents(r.Context(), channel, since, limit)
	if err != nil {
		d.writeServiceError(w, "replay_facts", err)
		return
	}
	if events == nil {
		events = []pubsub.StreamEvent{}
	}
	writeJSON(w, http.StatusOK, FactsResponse{Channel: channel, Events: events})
}

type AckRequest struct {
	Channel  string `json:"channel"`
	Consumer string `json:"consumer"`
	Sequence int64  `json:"seq"`
}

func (d Dependencies) ackFacts(w http.ResponseWriter, r *http.Request) {
	if d.Streams == nil {
		WriteError(w, http.StatusNotImplemented, "replay_unavailable", "Fact replay requires Redis", d.Log)
		return
	}

	var req AckRequest
	if err := decode(r, &req); err != nil || req.Channel == "" || req.Consumer == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "channel and consumer are required", d.Log)
		return
	}

	if err := d.Streams.AcknowledgeSequence(r.Context(), req.Channel, req.Consumer, req.Sequence); err != nil {
		d.writeServiceError(w, "ack_facts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
