package replproto

import (
	"io"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/encoding"
)

// Envelope is the single value actually carried by a length-framed wire
// message: a fixed Header followed by an opaque, already-marshaled
// payload. Keeping the payload opaque at this layer lets ReadMessage
// decode the Header before the caller has committed to a concrete
// payload type.
type Envelope struct {
	Header  Header
	Payload []byte
}

// MarshalWire writes e's Header followed by its length-prefixed Payload.
func (e Envelope) MarshalWire(w io.Writer) error {
	enc := encoding.NewEncoder(w)
	e.Header.MarshalWire(enc)
	enc.WritePrefixedBytes(e.Payload)
	return enc.Err()
}

// UnmarshalWire reads e's Header followed by its length-prefixed
// Payload.
func (e *Envelope) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	e.Header.UnmarshalWire(d)
	e.Payload = d.ReadPrefixedBytes()
	return d.Err()
}

// WriteMessage marshals payload, wraps it in an Envelope alongside
// header, and writes the whole thing to w as one length-prefixed frame.
// payload may be nil, in which case Envelope.Payload is empty and the
// message carries only its Header.
func WriteMessage(w io.Writer, header Header, payload encoding.WireMarshaler) error {
	env := Envelope{Header: header, Payload: encoding.Marshal(payload)}
	return errors.Wrap(encoding.WriteFrame(w, encoding.Marshal(env)), "replproto: writing message")
}

// ReadEnvelope reads one length-prefixed frame from r and decodes its
// Envelope, leaving Payload undecoded. Server-side dispatch uses this to
// inspect Header.Type/SubType and pick a concrete payload type before
// calling DecodePayload.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	frame, err := encoding.ReadFrame(r)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "replproto: reading message")
	}
	var env Envelope
	if err := encoding.Unmarshal(frame, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "replproto: decoding envelope")
	}
	return env, nil
}

// DecodePayload unmarshals env.Payload into v.
func DecodePayload(env Envelope, v encoding.WireUnmarshaler) error {
	return errors.Wrap(encoding.Unmarshal(env.Payload, v), "replproto: decoding payload")
}

// ReadMessage reads one length-prefixed frame from r, decodes its
// Envelope, and — if payload is non-nil — unmarshals the envelope's
// Payload into it. The decoded Header is always returned so callers can
// dispatch on Type/SubType before looking at the payload.
func ReadMessage(r io.Reader, payload encoding.WireUnmarshaler) (Header, error) {
	env, err := ReadEnvelope(r)
	if err != nil {
		return Header{}, err
	}
	if payload != nil {
		if err := DecodePayload(env, payload); err != nil {
			return env.Header, err
		}
	}
	return env.Header, nil
}
