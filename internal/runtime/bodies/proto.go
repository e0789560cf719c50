package bodies

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	"github.com/drblury/kernelbus/internal/runtime/jsoncodec"
)

const protoKindPrefix = "proto:"

// ProtoKind returns the body kind used for protobuf messages of msg's type.
func ProtoKind(msg proto.Message) envelope.BodyKind {
	if isNilProto(msg) {
		return ""
	}
	return envelope.BodyKind(protoKindPrefix + string(msg.ProtoReflect().Descriptor().FullName()))
}

// ProtoBody carries a protobuf message as a Body. Copies go through
// proto.Clone, so no state is shared with the original.
type ProtoBody struct {
	Message proto.Message
	Reply   bool
}

// NewProtoBody wraps msg. responseRequired marks it as a request.
func NewProtoBody(msg proto.Message, responseRequired bool) *ProtoBody {
	return &ProtoBody{Message: msg, Reply: responseRequired}
}

func (b *ProtoBody) Kind() envelope.BodyKind {
	if b == nil {
		return ""
	}
	return ProtoKind(b.Message)
}

func (b *ProtoBody) ResponseRequired() bool {
	return b != nil && b.Reply
}

func (b *ProtoBody) Copy() envelope.Body {
	if b == nil {
		return (*ProtoBody)(nil)
	}
	var msg proto.Message
	if !isNilProto(b.Message) {
		msg = proto.Clone(b.Message)
	}
	return &ProtoBody{Message: msg, Reply: b.Reply}
}

func (b *ProtoBody) Equal(other envelope.Body) bool {
	o, ok := other.(*ProtoBody)
	if !ok || b == nil || o == nil {
		return ok && b == nil && o == nil
	}
	return b.Reply == o.Reply && proto.Equal(b.Message, o.Message)
}

// RegisterProto registers msg's type in the catalog as a ProtoBody kind.
func (c *Catalog) RegisterProto(msg proto.Message) error {
	if isNilProto(msg) {
		return errspkg.ErrInvalidBodyKind
	}
	return c.RegisterWithCodec(&ProtoBody{Message: msg.ProtoReflect().New().Interface()}, ProtoJSONCodec{})
}

type protoWire struct {
	ResponseRequired bool            `json:"responseRequired"`
	Message          json.RawMessage `json:"message"`
}

// ProtoJSONCodec encodes ProtoBody values as a JSON object holding the
// protojson form of the message next to the response flag.
type ProtoJSONCodec struct{}

func (ProtoJSONCodec) ContentType() string { return "application/protobuf+json" }

func (ProtoJSONCodec) Encode(body envelope.Body) ([]byte, error) {
	pb, ok := body.(*ProtoBody)
	if !ok || pb == nil || isNilProto(pb.Message) {
		return nil, fmt.Errorf("%w: expected *ProtoBody, got %T", errspkg.ErrInvalidBodyKind, body)
	}
	raw, err := protojson.Marshal(pb.Message)
	if err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(protoWire{ResponseRequired: pb.Reply, Message: raw})
}

func (ProtoJSONCodec) Decode(data []byte, prototype envelope.Body) (envelope.Body, error) {
	pb, ok := prototype.(*ProtoBody)
	if !ok || pb == nil || isNilProto(pb.Message) {
		return nil, fmt.Errorf("%w: expected *ProtoBody prototype, got %T", errspkg.ErrInvalidBodyKind, prototype)
	}

	var wire protoWire
	if err := jsoncodec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proto envelope: %w", err)
	}

	msg := pb.Message.ProtoReflect().New().Interface()
	if len(wire.Message) > 0 {
		if err := protojson.Unmarshal(wire.Message, msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T payload: %w", pb.Message, err)
		}
	}
	return &ProtoBody{Message: msg, Reply: wire.ResponseRequired}, nil
}

func isNilProto(msg proto.Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
