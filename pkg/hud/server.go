// Package hud serves the live readings to heads-up display clients over a
// websocket, together with health and metrics endpoints.
package hud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/pipeline"
	"github.com/spop/grupetto/pkg/watchdog"
)

// Source provides the state shown on the display.
type Source interface {
	Latest() map[string]pipeline.Reading
	Advisory() (watchdog.Event, bool)
	Dismiss()
}

var _ Source = (*pipeline.Pipeline)(nil)

// Advisory is the dead source message shown until dismissed.
type Advisory struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Snapshot is one display update.
type Snapshot struct {
	Session   string             `json:"session,omitempty"`
	Values    map[string]float64 `json:"values"`
	SpeedUnit string             `json:"speedUnit"`
	Updated   time.Time          `json:"updated"`
	Advisory  *Advisory          `json:"advisory"`
}

// Command is sent by display clients.
type Command struct {
	Dismiss bool `json:"dismiss"`
}

// Server is the HUD feed.
type Server struct {
	cfg     config.HUDConfig
	src     Source
	log     logrus.FieldLogger
	metrics http.Handler

	upgrader websocket.Upgrader

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a HUD server. metrics may be nil.
func New(cfg config.HUDConfig, src Source, log logrus.FieldLogger, metrics http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		src:     src,
		log:     log.WithField("component", "hud"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil && s.cfg.EnableMetrics {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HUD online at %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	s.close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// close stops every websocket writer.
func (s *Server) close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Snapshot builds the current display state.
func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{
		Values:    make(map[string]float64),
		SpeedUnit: s.cfg.SpeedUnit,
	}

	for name, r := range s.src.Latest() {
		snap.Values[name] = r.Value
		snap.Session = r.Session
		if r.Timestamp.After(snap.Updated) {
			snap.Updated = r.Timestamp
		}
	}

	if ev, ok := s.src.Advisory(); ok {
		snap.Advisory = &Advisory{Message: ev.Message, Time: ev.Time}
	}
	return snap
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.log.WithError(err).Warn("Failed to write snapshot")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Debug("HUD client connected")

	stop := make(chan struct{})
	defer close(stop)

	go s.writeSnapshots(conn, stop)

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		if cmd.Dismiss {
			log.Info("Advisory dismissed")
			s.src.Dismiss()
		}
	}

	log.Debug("HUD client disconnected")
}

// writeSnapshots pushes a snapshot every update period until the client
// goes away or the server stops.
func (s *Server) writeSnapshots(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.UpdatePeriod)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.Snapshot()); err != nil {
			return
		}

		select {
		case <-stop:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
		}
	}
}
