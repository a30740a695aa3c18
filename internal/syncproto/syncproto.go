// Package syncproto defines the messages exchanged in one sync round and
// the interfaces that carry them.
//
// A round is one Request from the replica that started the sync and one
// Response from its peer:
//
//	{"groupId":"g","clientId":"...","messages":[...],"merkle":{...},"afterTime":"..."}
//	{"messages":[...],"merkle":{...}}
//
// afterTime is informational. It is set from the second round on and records
// the lower bound of the entries being resent.
//
// Messages are decoded one at a time. A message that cannot be read as an
// entry lands in Undecoded and the rest of the round goes ahead.
package syncproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/merkle"
	"github.com/roach88/hlcsync/internal/oplog"
)

// Request is one round from the syncing replica.
type Request struct {
	GroupID   string         `json:"groupId"`
	ClientID  hlc.NodeID     `json:"clientId"`
	Messages  []oplog.Entry  `json:"messages"`
	Merkle    *merkle.Trie   `json:"merkle"`
	AfterTime *hlc.Timestamp `json:"afterTime,omitempty"`

	// Undecoded is filled by DecodeRequest and never sent.
	Undecoded []Undecoded `json:"-"`
}

// Response is the peer's answer to a Request.
type Response struct {
	Messages []oplog.Entry `json:"messages"`
	Merkle   *merkle.Trie  `json:"merkle"`

	// Undecoded is filled by DecodeResponse and never sent.
	Undecoded []Undecoded `json:"-"`
}

// Undecoded is a message that could not be read as an entry.
type Undecoded struct {
	// Index is the message's position in the wire array.
	Index int

	// HLCTime is the message's hlcTime as sent, possibly malformed or empty.
	HLCTime string

	// Err is an *oplog.InvalidEntryError wrapping the decode failure.
	Err error
}

type wireRequest struct {
	GroupID   string            `json:"groupId"`
	ClientID  hlc.NodeID        `json:"clientId"`
	Messages  []json.RawMessage `json:"messages"`
	Merkle    *merkle.Trie      `json:"merkle"`
	AfterTime *hlc.Timestamp    `json:"afterTime,omitempty"`
}

type wireResponse struct {
	Messages []json.RawMessage `json:"messages"`
	Merkle   *merkle.Trie      `json:"merkle"`
}

// Transport carries one round to a peer and returns its answer.
type Transport interface {
	Exchange(ctx context.Context, req Request) (Response, error)
}

// Handler answers sync rounds. engine.Engine implements it.
type Handler interface {
	HandleSync(ctx context.Context, req Request) (Response, error)
}

// Validate checks the fields every request must carry.
func (r Request) Validate() error {
	if r.GroupID == "" {
		return fmt.Errorf("sync request: missing groupId")
	}
	if !r.ClientID.Valid() {
		return fmt.Errorf("sync request: bad clientId %q", r.ClientID)
	}
	if r.Merkle == nil {
		return fmt.Errorf("sync request: missing merkle")
	}
	return nil
}

// DecodeRequest reads a request, rejecting unknown fields and trailing data
// in the envelope. Malformed messages are collected in Undecoded.
func DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := decodeStrict(data, &w); err != nil {
		return Request{}, fmt.Errorf("decode sync request: %w", err)
	}
	req := Request{
		GroupID:   w.GroupID,
		ClientID:  w.ClientID,
		Merkle:    w.Merkle,
		AfterTime: w.AfterTime,
	}
	req.Messages, req.Undecoded = decodeMessages(w.Messages)
	return req, nil
}

// DecodeResponse reads a response, rejecting unknown fields and trailing
// data in the envelope. A response without a trie is an error; malformed
// messages are collected in Undecoded.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := decodeStrict(data, &w); err != nil {
		return Response{}, fmt.Errorf("decode sync response: %w", err)
	}
	if w.Merkle == nil {
		return Response{}, fmt.Errorf("decode sync response: missing merkle")
	}
	resp := Response{Merkle: w.Merkle}
	resp.Messages, resp.Undecoded = decodeMessages(w.Messages)
	return resp, nil
}

func decodeMessages(raw []json.RawMessage) ([]oplog.Entry, []Undecoded) {
	entries := make([]oplog.Entry, 0, len(raw))
	var bad []Undecoded
	for i, msg := range raw {
		var e oplog.Entry
		err := json.Unmarshal(msg, &e)
		if err == nil {
			entries = append(entries, e)
			continue
		}

		var label struct {
			HLCTime string `json:"hlcTime"`
		}
		_ = json.Unmarshal(msg, &label)
		bad = append(bad, Undecoded{
			Index:   i,
			HLCTime: label.HLCTime,
			Err:     &oplog.InvalidEntryError{Reason: fmt.Sprintf("message %d: %v", i, err), Err: err},
		})
	}
	return entries, bad
}

// Encode marshals v with Messages forced to a JSON array.
func Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case Request:
		if m.Messages == nil {
			m.Messages = []oplog.Entry{}
		}
		v = m
	case Response:
		if m.Messages == nil {
			m.Messages = []oplog.Entry{}
		}
		v = m
	}
	return json.Marshal(v)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
