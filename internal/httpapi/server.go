package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
	"github.com/AndreCAndersen/home2telldus/internal/gateway"
)

const SuccessMessage = "Command was successfully sent."

// maxBodyBytes bounds POST bodies; requests only carry a handful of short fields.
const maxBodyBytes = 16 << 10

type Server struct {
	svc *gateway.Service
}

func NewServer(svc *gateway.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/command", s.handleCommand)
	r.Post("/command", s.handleCommand)
	r.Get("/devices", s.handleDevices)
	r.Post("/devices", s.handleDevices)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperrors.From(err)
	if ae.Code >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "exception", ae.Kind, "error", err, "correlation_id", CorrelationID(r.Context()))
	} else {
		slog.Info("request rejected", "path", r.URL.Path, "exception", ae.Kind, "correlation_id", CorrelationID(r.Context()))
	}
	apperrors.WriteError(w, ae)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := gateway.Resolve(args, s.svc.ServerCredentials())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SendCommand(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": SuccessMessage})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	creds, err := gateway.ResolveCredentials(args, s.svc.ServerCredentials())
	if err != nil {
		writeError(w, r, err)
		return
	}
	devices, err := s.svc.ListDevices(r.Context(), creds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// readArgs merges the query string with an optional JSON object body; body keys win.
func readArgs(r *http.Request) (gateway.Args, error) {
	args := gateway.Args{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return args, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.BadRequest("Could not read request body.")
	}
	if len(body) > maxBodyBytes {
		return nil, apperrors.BadRequest("Request body too large.")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, apperrors.BadRequest("Request body must be a JSON object.")
	}
	for k, v := range payload {
		switch t := v.(type) {
		case nil:
		case string:
			args[k] = t
		case json.Number:
			args[k] = t.String()
		case bool:
			args[k] = strconv.FormatBool(t)
		default:
			return nil, apperrors.BadRequest("Argument '" + k + "' must be a string or a number.")
		}
	}
	return args, nil
}
