package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/predicate"
	"github.com/roach88/livesync/internal/schema"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/wire"
)

// Server exposes a Hub over HTTP: the WebSocket sync endpoint plus a small
// JSON API for reading and writing records.
//
//	GET    /sync                                  WebSocket sync protocol
//	GET    /collections                           declared collections
//	GET    /collections/{collection}/records      ?q=<query> or ?filter=<AIP-160>
//	POST   /collections/{collection}/records      body: fields; id is generated
//	GET    /collections/{collection}/records/{id}
//	PUT    /collections/{collection}/records/{id} body: fields
//	PATCH  /collections/{collection}/records/{id} body: deltas (null removes)
//	DELETE /collections/{collection}/records/{id}
//	GET    /healthz
//	GET    /metrics
type Server struct {
	hub          *Hub
	router       *mux.Router
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewServer builds the routes for hub.
func NewServer(hub *Hub) *Server {
	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: 5 * time.Second,
	}

	r := mux.NewRouter()
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/sync").HandlerFunc(s.sync)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/collections").HandlerFunc(s.listCollections)
	r.Methods(http.MethodGet).Path("/collections/{collection}/records").HandlerFunc(s.listRecords)
	r.Methods(http.MethodPost).Path("/collections/{collection}/records").HandlerFunc(s.createRecord)
	r.Methods(http.MethodGet).Path("/collections/{collection}/records/{id}").HandlerFunc(s.getRecord)
	r.Methods(http.MethodPut).Path("/collections/{collection}/records/{id}").HandlerFunc(s.putRecord)
	r.Methods(http.MethodPatch).Path("/collections/{collection}/records/{id}").HandlerFunc(s.patchRecord)
	r.Methods(http.MethodDelete).Path("/collections/{collection}/records/{id}").HandlerFunc(s.deleteRecord)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully and disconnects all sync sessions.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s}

	errc := make(chan error, 1)
	go func() {
		slog.Info("authority listening", "addr", addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "error", err)
		return
	}
	conn := wire.NewWebSocketConn(ws, s.writeTimeout)
	defer conn.Close()

	if err := s.hub.Serve(r.Context(), conn); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			slog.Debug("sync connection closed", "code", ce.Code)
			return
		}
		slog.Warn("sync session failed", "error", err)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Sessions(),
	})
}

func (s *Server) listCollections(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if reg := s.hub.Schemas(); reg != nil {
		names = reg.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	q, err := s.parseQuery(collection, r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	records, err := s.hub.Fetch(r.Context(), q)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q.String(),
		"records": records,
	})
}

// parseQuery reads ?q= (query language) or ?filter= (AIP-160). With neither,
// every record of the collection matches.
func (s *Server) parseQuery(collection string, r *http.Request) (predicate.Query, error) {
	params := r.URL.Query()
	expr, filter := params.Get("q"), params.Get("filter")

	switch {
	case expr != "" && filter != "":
		return predicate.Query{}, fmt.Errorf("%w: use either q or filter", predicate.ErrPredicateParse)
	case filter != "":
		reg := s.hub.Schemas()
		if reg == nil {
			return predicate.Query{}, fmt.Errorf("filter requires a schema: %w", schema.ErrUnknownCollection)
		}
		sch, ok := reg.Get(collection)
		if !ok {
			return predicate.Query{}, fmt.Errorf("%w: %q", schema.ErrUnknownCollection, collection)
		}
		return predicate.ParseFilter(sch, filter)
	case expr != "":
		return predicate.Parse(collection, expr)
	default:
		return predicate.Query{Collection: collection, Where: predicate.True}, nil
	}
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.hub.Create(r.Context(), mux.Vars(r)["collection"], fields)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.hub.Get(r.Context(), vars["collection"], ir.RecordID(vars["id"]))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fields, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, _, err := s.hub.Put(r.Context(), ir.Record{
		ID:         ir.RecordID(vars["id"]),
		Collection: vars["collection"],
		Fields:     fields,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) patchRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deltas, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.hub.Patch(r.Context(), vars["collection"], ir.RecordID(vars["id"]), deltas)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.hub.Delete(r.Context(), vars["collection"], ir.RecordID(vars["id"])); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeObject(r *http.Request) (ir.IRObject, error) {
	var obj ir.IRObject
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode body: expected a JSON object")
	}
	return obj, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, schema.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, store.ErrCollectionMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, predicate.ErrPredicateParse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
