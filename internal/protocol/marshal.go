package protocol

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/tinylib/msgp/msgp"
)

// Pool of buffers shared by concurrent connection writers.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Marshal serializes an envelope to msgpack.
func Marshal(e *Envelope) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	writer := msgp.NewWriter(buf)
	if err := e.EncodeMsg(writer); err != nil {
		return nil, err
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}

	// Copy out of the pooled buffer.
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes a msgpack envelope.
func Unmarshal(data []byte, e *Envelope) error {
	return e.DecodeMsg(msgp.NewReader(bytes.NewReader(data)))
}

// EncodeText serializes an envelope for a text frame.
func EncodeText(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeText parses a text frame.
func DecodeText(data []byte, e *Envelope) error {
	return json.Unmarshal(data, e)
}

// EncodeMsg implements msgp.Encodable.
func (e *Envelope) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(3); err != nil {
		return err
	}
	if err := w.WriteString("type"); err != nil {
		return err
	}
	if err := w.WriteString(e.Type); err != nil {
		return msgp.WrapError(err, "Type")
	}
	if err := w.WriteString("request_id"); err != nil {
		return err
	}
	if err := w.WriteString(e.RequestID); err != nil {
		return msgp.WrapError(err, "RequestID")
	}
	if err := w.WriteString("payload"); err != nil {
		return err
	}
	if err := w.WriteBytes(e.Payload); err != nil {
		return msgp.WrapError(err, "Payload")
	}
	return nil
}

// DecodeMsg implements msgp.Decodable. Unknown keys are skipped.
func (e *Envelope) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for ; n > 0; n-- {
		key, err := r.ReadMapKeyPtr()
		if err != nil {
			return err
		}
		switch string(key) {
		case "type":
			if e.Type, err = r.ReadString(); err != nil {
				return msgp.WrapError(err, "Type")
			}
		case "request_id":
			if e.RequestID, err = r.ReadString(); err != nil {
				return msgp.WrapError(err, "RequestID")
			}
		case "payload":
			if e.Payload, err = r.ReadBytes(nil); err != nil {
				return msgp.WrapError(err, "Payload")
			}
			if len(e.Payload) == 0 {
				e.Payload = nil
			}
		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalMsg implements msgp.Marshaler.
func (e *Envelope) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, e.Msgsize())
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "type")
	o = msgp.AppendString(o, e.Type)
	o = msgp.AppendString(o, "request_id")
	o = msgp.AppendString(o, e.RequestID)
	o = msgp.AppendString(o, "payload")
	o = msgp.AppendBytes(o, e.Payload)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (e *Envelope) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for ; n > 0; n-- {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, err
		}
		switch string(key) {
		case "type":
			if e.Type, b, err = msgp.ReadStringBytes(b); err != nil {
				return b, msgp.WrapError(err, "Type")
			}
		case "request_id":
			if e.RequestID, b, err = msgp.ReadStringBytes(b); err != nil {
				return b, msgp.WrapError(err, "RequestID")
			}
		case "payload":
			if e.Payload, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
				return b, msgp.WrapError(err, "Payload")
			}
			if len(e.Payload) == 0 {
				e.Payload = nil
			}
		default:
			if b, err = msgp.Skip(b); err != nil {
				return b, err
			}
		}
	}
	return b, nil
}

// Msgsize returns an upper bound on the encoded size.
func (e *Envelope) Msgsize() int {
	return msgp.MapHeaderSize +
		msgp.StringPrefixSize + len("type") + msgp.StringPrefixSize + len(e.Type) +
		msgp.StringPrefixSize + len("request_id") + msgp.StringPrefixSize + len(e.RequestID) +
		msgp.StringPrefixSize + len("payload") + msgp.BytesPrefixSize + len(e.Payload)
}
