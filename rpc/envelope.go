package rpc

import "encoding/json"

// Request is the wire envelope: exactly three top-level keys. Any other
// shape is malformed and is routed to a completed queue rather than
// executed.
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     string            `json:"id"`
}

// Response carries either a Result or an Error, never both, keyed to
// the Request.ID it answers.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	ID     string          `json:"id"`
}

// parseRequest decodes raw into a Request, rejecting anything that
// isn't exactly {method, params, id}: a missing field or an extra
// top-level key is malformed.
func parseRequest(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, err
	}
	for k := range fields {
		switch k {
		case "method", "params", "id":
		default:
			return Request{}, errMalformed("unexpected field %q", k)
		}
	}
	method, ok := fields["method"]
	if !ok {
		return Request{}, errMalformed("missing method")
	}
	params, ok := fields["params"]
	if !ok {
		return Request{}, errMalformed("missing params")
	}
	idRaw, ok := fields["id"]
	if !ok {
		return Request{}, errMalformed("missing id")
	}

	var req Request
	if err := json.Unmarshal(method, &req.Method); err != nil {
		return Request{}, errMalformed("method: %v", err)
	}
	if err := json.Unmarshal(params, &req.Params); err != nil {
		return Request{}, errMalformed("params: %v", err)
	}
	if err := json.Unmarshal(idRaw, &req.ID); err != nil {
		return Request{}, errMalformed("id: %v", err)
	}
	if req.Method == "" || req.ID == "" {
		return Request{}, errMalformed("method and id must be non-empty")
	}
	return req, nil
}

// parseResponse decodes raw into a Response. A response missing an id,
// or carrying neither result nor error, is malformed.
func parseResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	if resp.ID == "" {
		return Response{}, errMalformed("response missing id")
	}
	if len(resp.Result) == 0 && resp.Error == "" {
		return Response{}, errMalformed("response carries neither result nor error")
	}
	return resp, nil
}
