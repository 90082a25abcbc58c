// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"symbiont/core/events"
)

// heartbeatInterval keeps idle streams alive through proxies that close
// silent connections.
const heartbeatInterval = 15 * time.Second

// eventsHandler streams bus events as server-sent events. The kinds query
// parameter narrows the stream; rdi-private events only flow to loopback
// clients, since drift indices never leave the device unless the user
// exports them.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, k := range kinds {
		if k == events.KindRDIPrivate && !isLoopback(r.RemoteAddr) {
			s.writeError(w, "rdi-private events are loopback-only", http.StatusForbidden)
			return
		}
	}

	sub := s.deps.Bus.Subscribe(kinds...)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			// An unfiltered subscription still must not leak private
			// drift events to remote clients.
			if ev.Kind == events.KindRDIPrivate && !isLoopback(r.RemoteAddr) {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Error(ev.UserID, ev.RequestID, "marshal event", map[string]interface{}{
					"kind":  string(ev.Kind),
					"error": err.Error(),
				})
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// parseKinds turns a comma-separated kind list into bus kinds. Empty input
// subscribes to everything.
func parseKinds(raw string) ([]events.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var kinds []events.Kind
	for _, part := range strings.Split(raw, ",") {
		k := events.Kind(strings.TrimSpace(part))
		if !validKind(k) {
			return nil, fmt.Errorf("unknown event kind %q", part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func validKind(k events.Kind) bool {
	switch k {
	case events.KindFeedback, events.KindGateViolation, events.KindARIAlert,
		events.KindEDMDetection, events.KindRDIPrivate:
		return true
	}
	return false
}

// isLoopback reports whether the remote address resolves to a loopback
// interface.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
