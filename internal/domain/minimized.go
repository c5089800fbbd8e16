package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MinimizedSession is the durable, size-reduced form of a chat session.
type MinimizedSession struct {
	ID            string           `json:"id" bson:"id"`
	Title         string           `json:"title" bson:"title"`
	CreatedAt     time.Time        `json:"createdAt" bson:"createdAt"`
	LastModified  time.Time        `json:"lastModified" bson:"lastModified"`
	UserID        string           `json:"userId" bson:"userId"`
	Messages      []ReducedMessage `json:"messages" bson:"messages"`
	MessageCount  int              `json:"messageCount" bson:"messageCount"`
	Model         string           `json:"model,omitempty" bson:"model,omitempty"`
	LastSyncedAt  time.Time        `json:"lastSyncedAt" bson:"lastSyncedAt"`
	UserIDAndDate string           `json:"userIdAndDate,omitempty" bson:"userIdAndDate,omitempty"`
	Metadata      *Metadata        `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// ReducedMessage is one retained message of a MinimizedSession. Content holds
// string content; RawContent holds any other JSON value verbatim. Both are
// written under the single "content" field.
type ReducedMessage struct {
	Role         string
	Content      string
	RawContent   Payload
	FunctionCall Payload
	ToolCalls    Payload
}

type reducedMessageDoc struct {
	Role         string      `json:"role" bson:"role"`
	Content      interface{} `json:"content,omitempty" bson:"content,omitempty"`
	FunctionCall Payload     `json:"function_call,omitempty" bson:"function_call,omitempty"`
	ToolCalls    Payload     `json:"tool_calls,omitempty" bson:"tool_calls,omitempty"`
}

func (m ReducedMessage) doc() reducedMessageDoc {
	d := reducedMessageDoc{Role: m.Role, FunctionCall: m.FunctionCall, ToolCalls: m.ToolCalls}
	switch {
	case len(m.RawContent) > 0:
		d.Content = m.RawContent
	case m.Content != "":
		d.Content = m.Content
	}
	return d
}

func (m ReducedMessage) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m.doc()); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (m ReducedMessage) MarshalBSON() ([]byte, error) {
	return bson.Marshal(m.doc())
}

// Metadata keeps the provenance of a synced session.
type Metadata struct {
	SourceKey string            `json:"sourceKey" bson:"sourceKey"`
	Fields    map[string]string `json:"fields,omitempty" bson:"fields,omitempty"`
}

// Payload is an opaque JSON value (structured content, function or tool
// call) carried through unmodified. It is stored in MongoDB as the equivalent
// BSON value.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return errors.New("domain: Payload: UnmarshalJSON on nil pointer")
	}
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// MarshalBSONValue converts the JSON value to BSON keeping object key order.
// Whole numbers become int32 or int64, other numbers float64.
func (p Payload) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if len(p) == 0 {
		return bsontype.Null, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return 0, nil, fmt.Errorf("domain: Payload: %w", err)
	}
	if dec.More() {
		return 0, nil, errors.New("domain: Payload: trailing data")
	}
	return bson.MarshalValue(v)
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := bson.D{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				doc = append(doc, bson.E{Key: key, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return doc, nil
		case '[':
			arr := bson.A{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return numberValue(t), nil
	default:
		// string, bool or nil
		return t, nil
	}
}

func numberValue(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i)
		}
		return i
	}
	f, _ := n.Float64()
	return f
}
