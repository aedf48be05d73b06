/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pixelmesa/kioskd/internal/events"
)

// streamedEvents are the event types forwarded to websocket clients.
var streamedEvents = []events.EventType{
	events.EventNowShowing,
	events.EventModeChange,
	events.EventBrowserStart,
	events.EventBrowserExit,
	events.EventBrowserRestart,
	events.EventScheduleUpdate,
	events.EventScheduleRejected,
	events.EventStraysReaped,
}

// handleEvents streams controller events over a websocket. The admin page
// uses it to update live without polling.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // device-local API, no origin policy
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	ctx := r.Context()

	merged := make(chan eventEnvelope, 16)
	for _, eventType := range streamedEvents {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)

		go func(eventType events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- eventEnvelope{Type: eventType, Timestamp: time.Now(), Payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}(eventType, sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-merged:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, envelope)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed, closing")
				return
			}
		}
	}
}
