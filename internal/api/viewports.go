package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/seantiz/desolidify/internal/viewer"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Inbound socket message types. Pointer messages use the viewer pointer
// types ("down", "move", "up").
const msgResize = "resize"

// socketMessage is a message sent by a viewport client.
type socketMessage struct {
	Type   string  `json:"type"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

func (s *Server) handleListViewports(w http.ResponseWriter, _ *http.Request) {
	viewers := s.viewports.List()
	poses := make([]viewer.Pose, 0, len(viewers))
	for _, v := range viewers {
		poses = append(poses, v.Pose())
	}
	s.writeJSON(w, http.StatusOK, poses)
}

// lookupViewport resolves the {name} URL parameter, writing a 404 if it is unknown.
func (s *Server) lookupViewport(w http.ResponseWriter, r *http.Request) (*viewer.Viewer, bool) {
	v, err := s.viewports.Get(chi.URLParam(r, "name"))
	if errors.Is(err, viewer.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "viewport not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get viewport", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get viewport")
		return nil, false
	}
	return v, true
}

func (s *Server) handleGetViewport(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupViewport(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, v.Pose())
}

func (s *Server) handleViewportFrame(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupViewport(w, r)
	if !ok {
		return
	}

	surface := v.Surface()
	if surface == nil {
		s.writeError(w, http.StatusConflict, "viewport is not rendering")
		return
	}

	var buf bytes.Buffer
	if err := surface.EncodePNG(&buf); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("write frame", "viewport", v.Name(), "error", err)
	}
}

// handleViewportSocket drives a viewport's virtual mount from a websocket.
// Inbound messages resize the mount or deliver pointer events; the pose is
// sent after every rendered frame. Slow clients only see the latest pose.
func (s *Server) handleViewportSocket(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupViewport(w, r)
	if !ok {
		return
	}
	mount, err := s.viewports.Mount(v.Name())
	if err != nil || mount == nil {
		s.writeError(w, http.StatusConflict, "viewport has no remote mount")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "viewport", v.Name(), "error", err)
		return
	}
	defer conn.Close()

	openStreams.WithLabelValues(streamViewport).Inc()
	defer openStreams.WithLabelValues(streamViewport).Dec()

	logger := s.logger.With("viewport", v.Name(), "request_id", middleware.GetReqID(r.Context()))
	logger.Info("viewport client connected")

	poses := make(chan viewer.Pose, 1)
	push := func(p viewer.Pose) {
		for {
			select {
			case poses <- p:
				return
			default:
			}
			select {
			case <-poses:
			default:
			}
		}
	}
	unwatch := v.Watch(push)
	defer unwatch()
	push(v.Pose())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-done:
				return
			case p := <-poses:
				data, err := json.Marshal(p)
				if err != nil {
					logger.Error("encode pose", "error", err)
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					// Unblocks the read loop below.
					conn.Close()
					return
				}
			}
		}
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed socket message", "error", err)
			continue
		}
		switch msg.Type {
		case msgResize:
			mount.Resize(msg.Width, msg.Height)
		case string(viewer.PointerDown), string(viewer.PointerMove), string(viewer.PointerUp):
			mount.Pointer(viewer.PointerEvent{Type: viewer.PointerType(msg.Type), X: msg.X, Y: msg.Y})
		default:
			logger.Debug("ignoring socket message", "type", msg.Type)
		}
	}
	// A client that drops mid-drag never sends its own up.
	mount.Pointer(viewer.PointerEvent{Type: viewer.PointerUp})

	close(done)
	wg.Wait()
	logger.Info("viewport client disconnected")
}
