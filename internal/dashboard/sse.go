package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 15 * time.Second

// listEvent is sent whenever the active dispatch list changes.
type listEvent struct {
	Count      int            `json:"count"`
	Dispatches []dispatchJSON `json:"dispatches"`
}

// listFingerprint changes whenever a row is added, removed or edited.
type listFingerprint struct {
	count   int
	maxID   uint
	updated time.Time
}

func fingerprint(recs []models.Dispatch) listFingerprint {
	fp := listFingerprint{count: len(recs)}
	for _, d := range recs {
		if d.ID > fp.maxID {
			fp.maxID = d.ID
		}
		if d.UpdatedAt.After(fp.updated) {
			fp.updated = d.UpdatedAt
		}
	}
	return fp
}

// handleSSE streams the active list: one snapshot on connect, then a new one
// each time a poll sees a change.
func handleSSE(svc Service, poll time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		channel := c.Query("channel")

		var last *listFingerprint
		push := func() {
			recs, err := svc.ListActive(ctx, channel)
			if err != nil {
				c.Error(err)
				return
			}
			fp := fingerprint(recs)
			if last != nil && *last == fp {
				return
			}
			last = &fp

			evt := listEvent{Count: len(recs), Dispatches: make([]dispatchJSON, 0, len(recs))}
			for _, d := range recs {
				evt.Dispatches = append(evt.Dispatches, toJSON(d))
			}
			writeSSE(c.Writer, "dispatches", evt)
			c.Writer.Flush()
		}
		push()

		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				push()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
