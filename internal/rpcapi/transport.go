// Transport wiring for the control RPC surface. spec.md §1 puts the
// host's RPC transport out of scope, but this repo still needs some
// concrete way for cmd/slingctl to reach a running cmd/sling daemon;
// it exposes the same Server methods over a small JSON-RPC 2.0 style
// HTTP endpoint, routed with gorilla/mux the way gocryptotrader's
// webserver wires its HTTP surface.
package rpcapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/daywalker90/sling/internal/slingerr"
)

// Request is one JSON-RPC call: method is a sling-* name, params is
// decoded according to that method's argument shape.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error, mirroring JSON-RPC
// 2.0's response shape.
type Response struct {
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// RPCError is the wire form of a slingerr.Error: Code is -32602 for a
// rejected Validation call, 0 for anything else.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dispatch routes one sling-* call to its Server method, decoding
// params according to the method name. Unknown methods are a
// Validation error, matching spec.md §7's categorization.
func (s *Server) Dispatch(req Request) (any, error) {
	switch req.Method {
	case "sling-version":
		return s.Version(), nil
	case "sling-job":
		var p JobRequest
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Job(p)
	case "sling-once":
		var p OnceRequest
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Once(p)
	case "sling-go":
		var p []string
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Go(p)
	case "sling-stop":
		var p []string
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Stop(p)
	case "sling-deletejob":
		var p []string
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.DeleteJob(p)
	case "sling-stats":
		var p []string
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Stats(p)
	case "sling-except-chan":
		var p exceptParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.ExceptChan(p.JobScid, p.Args)
	case "sling-except-peer":
		var p exceptParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.ExceptPeer(p.JobScid, p.Args)
	default:
		return nil, slingerr.Validationf("unknown method %q", req.Method)
	}
}

// exceptParams is the wire shape for sling-except-chan/sling-except-peer:
// the job scid the exception is recorded against, plus the
// ["add"|"remove", target] pair spec.md §6 names.
type exceptParams struct {
	JobScid string   `json:"job_scid"`
	Args    []string `json:"args"`
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return slingerr.Validationf("malformed params: %s", err)
	}
	return nil
}

// HTTPHandler returns the mux-routed HTTP handler cmd/sling serves the
// control RPC surface on.
func (s *Server) HTTPHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, Response{Error: &RPCError{Code: -32700, Message: "parse error"}})
		return
	}

	result, err := s.Dispatch(req)
	if err != nil {
		writeJSON(w, Response{Error: toRPCError(err)})
		return
	}
	writeJSON(w, Response{Result: result})
}

func toRPCError(err error) *RPCError {
	if se, ok := err.(*slingerr.Error); ok {
		return &RPCError{Code: se.Code, Message: se.Error()}
	}
	return &RPCError{Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
