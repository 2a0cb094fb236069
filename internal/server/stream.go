package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webwraith/wraith/internal/browser"
)

// Streaming defaults: low frame rate and aggressive JPEG compression keep
// a remote-view session under a few hundred KB/s.
const (
	streamFPS                = 10
	defaultStreamJPEGQuality = 25
)

func (h *Handler) jpegQuality() int {
	if h.config.StreamQuality > 0 {
		return h.config.StreamQuality
	}
	return defaultStreamJPEGQuality
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamControl is an inbound control message on the websocket.
type streamControl struct {
	Action string  `json:"action"` // navigate | click | scroll | type | stop
	URL    string  `json:"url,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`
	Text   string  `json:"text,omitempty"`
}

// streamFrame is an outbound frame message.
type streamFrame struct {
	Type  string `json:"type"` // frame | error
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleStream fans out on the path suffix: bare session id is the
// websocket, "/mjpeg" the multipart stream.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.config.Pool == nil {
		h.jsonError(w, "streaming disabled", http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/stream/")
	if sessionID, ok := strings.CutSuffix(rest, "/mjpeg"); ok {
		h.streamMJPEG(w, r, sessionID)
		return
	}
	h.streamWebSocket(w, r, rest)
}

func (h *Handler) streamWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" || strings.Contains(sessionID, "/") {
		h.jsonError(w, "session id required", http.StatusBadRequest)
		return
	}

	slot, owned, err := h.acquireSession(sessionID)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if owned {
		defer h.config.Pool.Release(slot)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()
	h.log.Info("stream session opened", "session", sessionID)
	h.streamSession(conn, slot, r.URL.Query().Get("url"))
	h.log.Info("stream session closed", "session", sessionID)
}

// wsConn is the subset of *websocket.Conn the stream session uses.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// streamSession reads control messages and pumps frames until the client
// stops or disconnects. Every websocket write goes through the pump
// goroutine: gorilla/websocket supports only one concurrent writer, so
// control errors are relayed over a channel instead of written in place.
func (h *Handler) streamSession(conn wsConn, slot *browser.Slot, initialURL string) {
	stop := make(chan struct{})
	errs := make(chan string, 8)
	done := make(chan struct{})
	go h.pumpFrames(conn, slot, stop, errs, done)

	report := func(err error) {
		select {
		case errs <- err.Error():
		default:
		}
	}

	if initialURL != "" {
		if err := applyControl(slot, streamControl{Action: "navigate", URL: initialURL}); err != nil {
			report(err)
		}
	}

	for {
		var ctrl streamControl
		if err := conn.ReadJSON(&ctrl); err != nil {
			break
		}
		if ctrl.Action == "stop" {
			break
		}
		if err := applyControl(slot, ctrl); err != nil {
			report(err)
		}
	}
	close(stop)
	<-done
}

// pumpFrames sends base64 JPEG frames and relayed error messages until the
// control loop stops.
func (h *Handler) pumpFrames(conn wsConn, slot *browser.Slot, stop <-chan struct{}, errs <-chan string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / streamFPS)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case msg := <-errs:
			if err := conn.WriteJSON(streamFrame{Type: "error", Error: msg}); err != nil {
				return
			}
		case <-ticker.C:
			frame, err := browser.Screenshot(slot, false, h.jpegQuality())
			if err != nil {
				continue
			}
			msg := streamFrame{
				Type: "frame",
				Data: base64.StdEncoding.EncodeToString(frame),
				URL:  slot.NavigatedURL,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// applyControl executes one remote interaction on the live page.
func applyControl(slot *browser.Slot, ctrl streamControl) error {
	switch ctrl.Action {
	case "navigate":
		if ctrl.URL == "" {
			return fmt.Errorf("navigate needs url")
		}
		_, err := browser.Navigate(slot, ctrl.URL, browser.NavigateOptions{})
		return err
	case "click":
		return slot.Page.Mouse().Click(ctrl.X, ctrl.Y)
	case "scroll":
		_, err := slot.Page.Evaluate(fmt.Sprintf("window.scrollBy(0, %f)", ctrl.DeltaY))
		return err
	case "type":
		return slot.Page.Keyboard().Type(ctrl.Text)
	default:
		return fmt.Errorf("unknown action %q", ctrl.Action)
	}
}

// streamMJPEG serves the same frames as multipart/x-mixed-replace for
// plain <img> consumers.
func (h *Handler) streamMJPEG(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		h.jsonError(w, "session id required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	slot, owned, err := h.acquireSession(sessionID)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if owned {
		defer h.config.Pool.Release(slot)
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second / streamFPS)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, err := browser.Screenshot(slot, false, h.jpegQuality())
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// acquireSession reuses the slot already bound to the session or leases a
// fresh one under that id. owned reports whether the caller holds the
// lease and must release it; attaching to an in-flight session does not
// transfer ownership.
func (h *Handler) acquireSession(sessionID string) (slot *browser.Slot, owned bool, err error) {
	if slot := h.config.Pool.LookupBySession(sessionID); slot != nil {
		return slot, false, nil
	}
	slot, err = h.config.Pool.Acquire(sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("no browser available: %w", err)
	}
	return slot, true, nil
}
