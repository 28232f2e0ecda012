// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package protocol defines the JSON messages exchanged between a bridge and
// its dispatch worker.
package protocol

import (
	"encoding/json"

	"github.com/samber/oops"
)

// CodeProtocolError marks a message that could not be decoded.
const CodeProtocolError = "PROTOCOL_ERROR"

// Kind is a request message type.
type Kind string

// Request kinds.
const (
	KindInit          Kind = "init"
	KindGreet         Kind = "greet"
	KindCalculate     Kind = "calculate"
	KindProcessText   Kind = "processText"
	KindScrapeWebsite Kind = "scrapeWebsite"
	KindAdd           Kind = "add"
	KindCallFunction  Kind = "callFunction"
)

// IsCall reports whether k is a correlated call kind.
func (k Kind) IsCall() bool {
	switch k {
	case KindGreet, KindCalculate, KindProcessText, KindScrapeWebsite, KindAdd, KindCallFunction:
		return true
	}
	return false
}

// ResponseType is a response message type.
type ResponseType string

// Response types.
const (
	TypeReady  ResponseType = "ready"
	TypeResult ResponseType = "result"
	TypeError  ResponseType = "error"
)

// Call arguments, one struct per call kind.
type (
	GreetArgs struct {
		Name string `json:"name"`
	}
	CalculateArgs struct {
		Operation string  `json:"operation"`
		A         float64 `json:"a"`
		B         float64 `json:"b"`
	}
	ProcessTextArgs struct {
		Text string `json:"text"`
	}
	ScrapeWebsiteArgs struct {
		URL string `json:"url"`
	}
	AddArgs struct {
		A int32 `json:"a"`
		B int32 `json:"b"`
	}
	CallFunctionArgs struct {
		FunctionName string `json:"functionName"`
		Input        string `json:"input"`
	}
)

// Request is a message sent to the worker.
type Request struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewInitRequest builds an init message.
func NewInitRequest() Request {
	return Request{Type: KindInit}
}

// NewCallRequest builds a call message whose data is args merged with requestId.
func NewCallRequest(kind Kind, requestID string, args any) (Request, error) {
	data := map[string]json.RawMessage{}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Request{}, oops.In("protocol").With("type", kind).Wrapf(err, "encode args")
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return Request{}, oops.In("protocol").With("type", kind).Wrapf(err, "args must encode to an object")
		}
	}
	id, err := json.Marshal(requestID)
	if err != nil {
		return Request{}, oops.In("protocol").With("type", kind).Wrapf(err, "encode requestId")
	}
	data["requestId"] = id

	raw, err := json.Marshal(data)
	if err != nil {
		return Request{}, oops.In("protocol").With("type", kind).Wrapf(err, "encode data")
	}
	return Request{Type: kind, Data: raw}, nil
}

// RequestID returns data.requestId, or "" when absent or unreadable.
func (r Request) RequestID() string {
	if len(r.Data) == 0 {
		return ""
	}
	var env struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(r.Data, &env); err != nil {
		return ""
	}
	return env.RequestID
}

// DecodeArgs unmarshals the request data into v.
func (r Request) DecodeArgs(v any) error {
	if len(r.Data) == 0 {
		return oops.Code(CodeProtocolError).In("protocol").With("type", r.Type).Errorf("missing data for %s", r.Type)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return oops.Code(CodeProtocolError).In("protocol").With("type", r.Type).Wrapf(err, "invalid data for %s", r.Type)
	}
	return nil
}

// DecodeRequest parses a request message.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return Request{}, oops.Code(CodeProtocolError).In("protocol").Wrapf(err, "invalid message")
	}
	if r.Type == "" {
		return Request{}, oops.Code(CodeProtocolError).In("protocol").Errorf("message has no type")
	}
	return r, nil
}

// Response is a message sent by the worker.
type Response struct {
	Type      ResponseType
	Result    string
	Error     string
	RequestID string
}

// Ready builds a ready response.
func Ready() Response {
	return Response{Type: TypeReady}
}

// Result builds a result response.
func Result(requestID, result string) Response {
	return Response{Type: TypeResult, Result: result, RequestID: requestID}
}

// Error builds an error response. An empty requestID makes it uncorrelated.
func Error(requestID, message string) Response {
	return Response{Type: TypeError, Error: message, RequestID: requestID}
}

type readyJSON struct {
	Type ResponseType `json:"type"`
}

type resultJSON struct {
	Type      ResponseType `json:"type"`
	Result    string       `json:"result"`
	RequestID string       `json:"requestId,omitempty"`
}

type errorJSON struct {
	Type      ResponseType `json:"type"`
	Error     string       `json:"error"`
	RequestID string       `json:"requestId,omitempty"`
}

// MarshalJSON emits only the fields that belong to the response type.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case TypeReady:
		return json.Marshal(readyJSON{Type: r.Type})
	case TypeResult:
		return json.Marshal(resultJSON{Type: r.Type, Result: r.Result, RequestID: r.RequestID})
	case TypeError:
		return json.Marshal(errorJSON{Type: r.Type, Error: r.Error, RequestID: r.RequestID})
	default:
		return nil, oops.Code(CodeProtocolError).In("protocol").With("type", r.Type).Errorf("unknown response type %q", r.Type)
	}
}

// UnmarshalJSON accepts any of the response shapes.
func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      ResponseType `json:"type"`
		Result    string       `json:"result"`
		Error     string       `json:"error"`
		RequestID string       `json:"requestId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Response{Type: raw.Type, Result: raw.Result, Error: raw.Error, RequestID: raw.RequestID}
	return nil
}

// DecodeResponse parses a response message.
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return Response{}, oops.Code(CodeProtocolError).In("protocol").Wrapf(err, "invalid message")
	}
	switch r.Type {
	case TypeReady, TypeResult, TypeError:
		return r, nil
	default:
		return Response{}, oops.Code(CodeProtocolError).In("protocol").With("type", r.Type).Errorf("unknown response type %q", r.Type)
	}
}

// Encode marshals a message.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, oops.In("protocol").Wrapf(err, "encode message")
	}
	return b, nil
}
