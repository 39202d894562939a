package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// INFER (client -> server): one camera frame, one [1,K] position vector per
// limb, and the task string. Values are raw joint space; the service owns
// normalization.
type InferRequest struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Step            uint64            `json:"step"`
	Video           Tensor            `json:"video"`
	State           map[string]Tensor `json:"state"`
	TaskDescription string            `json:"task_description"`
}

// ACTIONS (server -> client): one [H,K] float32 tensor per limb, already
// denormalized into absolute joint positions.
type InferResponse struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Step            uint64            `json:"step"`
	Action          map[string]Tensor `json:"action"`
	InferenceTimeMS float64           `json:"inference_time_ms"`
}

// ERROR (server -> client).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// DecodeInferRequest parses and validates a request at the transport
// boundary. Unknown fields, version skew, and malformed tensors are rejected
// rather than silently defaulted.
func DecodeInferRequest(b []byte) (InferRequest, error) {
	var req InferRequest
	if err := strictUnmarshal(b, &req); err != nil {
		return req, fmt.Errorf("%s: %w", ErrProtoBadRequest, err)
	}
	if req.Type != TypeInfer {
		return req, fmt.Errorf("%s: type %q, want %s", ErrProtoBadRequest, req.Type, TypeInfer)
	}
	if req.ProtocolVersion != Version {
		return req, fmt.Errorf("%s: protocol_version %q, want %s", ErrProtoBadRequest, req.ProtocolVersion, Version)
	}
	if req.TaskDescription == "" {
		return req, fmt.Errorf("%s: empty task_description", ErrProtoBadRequest)
	}
	if err := req.Video.Validate(); err != nil {
		return req, fmt.Errorf("%s: video: %v", ErrBadShape, err)
	}
	if req.Video.Dtype != DtypeUint8 {
		return req, fmt.Errorf("%s: video dtype %s, want uint8", ErrBadDtype, req.Video.Dtype)
	}
	if len(req.Video.Shape) != 3 || req.Video.Shape[2] != 3 {
		return req, fmt.Errorf("%s: video shape %v, want [H W 3]", ErrBadShape, req.Video.Shape)
	}
	if len(req.State) == 0 {
		return req, fmt.Errorf("%s: no state tensors", ErrProtoBadRequest)
	}
	for name, t := range req.State {
		if err := t.Validate(); err != nil {
			return req, fmt.Errorf("%s: state.%s: %v", ErrBadShape, name, err)
		}
		if t.Dtype != DtypeFloat64 {
			return req, fmt.Errorf("%s: state.%s dtype %s, want float64", ErrBadDtype, name, t.Dtype)
		}
		if len(t.Shape) != 2 || t.Shape[0] != 1 {
			return req, fmt.Errorf("%s: state.%s shape %v, want [1 K]", ErrBadShape, name, t.Shape)
		}
	}
	return req, nil
}

// DecodeInferResponse parses and validates a response. Every action tensor
// must be [H,K] float32 for the given horizon.
func DecodeInferResponse(b []byte, horizon int) (InferResponse, error) {
	var resp InferResponse
	if err := strictUnmarshal(b, &resp); err != nil {
		return resp, fmt.Errorf("%s: %w", ErrProtoBadRequest, err)
	}
	if resp.Type != TypeActions {
		return resp, fmt.Errorf("%s: type %q, want %s", ErrProtoBadRequest, resp.Type, TypeActions)
	}
	if resp.ProtocolVersion != Version {
		return resp, fmt.Errorf("%s: protocol_version %q, want %s", ErrProtoBadRequest, resp.ProtocolVersion, Version)
	}
	if len(resp.Action) == 0 {
		return resp, fmt.Errorf("%s: no action tensors", ErrProtoBadRequest)
	}
	for name, t := range resp.Action {
		if err := t.Validate(); err != nil {
			return resp, fmt.Errorf("%s: action.%s: %v", ErrBadShape, name, err)
		}
		if t.Dtype != DtypeFloat32 {
			return resp, fmt.Errorf("%s: action.%s dtype %s, want float32", ErrBadDtype, name, t.Dtype)
		}
		if len(t.Shape) != 2 || t.Shape[0] != horizon {
			return resp, fmt.Errorf("%s: action.%s shape %v, want [%d K]", ErrBadShape, name, t.Shape, horizon)
		}
	}
	return resp, nil
}

// DecodeErrorMsg parses an ERROR envelope.
func DecodeErrorMsg(b []byte) (ErrorMsg, error) {
	var m ErrorMsg
	if err := strictUnmarshal(b, &m); err != nil {
		return m, err
	}
	if m.Type != TypeError {
		return m, fmt.Errorf("type %q, want %s", m.Type, TypeError)
	}
	return m, nil
}
