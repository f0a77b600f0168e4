package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeleech/internal/event"
	log "github.com/sirupsen/logrus"
)

// SSEHandler 推送任务生命周期事件 (Server-Sent Events)
func (s *Server) SSEHandler(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan event.Event, 16)
	bridge := func(e event.Event) {
		// 非阻塞发送，避免慢客户端阻塞总线
		select {
		case clientChan <- e:
		default:
		}
	}

	topics := []event.EventType{event.EventJobStarted, event.EventJobProgress, event.EventJobFinished}
	subIDs := make(map[event.EventType]string, len(topics))
	for _, t := range topics {
		subIDs[t] = s.bus.Subscribe(t, bridge)
	}
	defer func() {
		for t, id := range subIDs {
			s.bus.Unsubscribe(t, id)
		}
		log.Debug("SSE client disconnected")
	}()

	c.SSEvent("message", "connected")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case evt := <-clientChan:
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				log.Debugf("SSE marshal: %v", err)
				continue
			}
			c.SSEvent(string(evt.Type), string(data))
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
