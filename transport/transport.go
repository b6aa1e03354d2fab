// Package transport sends requests to the servers of a roster. A request is
// a protobuf-encoded message sent to a path of a service on one server, the
// reply is the protobuf-encoded answer.
//
// Every failure, whether the server is unreachable, the context expires or
// the reply cannot be decoded, is returned as an ocs.ErrCommunication.
package transport

import (
	"context"
	"reflect"

	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Transport sends one request to one server and returns the raw reply.
type Transport interface {
	Send(ctx context.Context, dst *network.ServerIdentity, service, path string, buf []byte) ([]byte, error)
}

// Func is an adapter to use a function as a Transport.
type Func func(ctx context.Context, dst *network.ServerIdentity, service, path string, buf []byte) ([]byte, error)

// Send calls f.
func (f Func) Send(ctx context.Context, dst *network.ServerIdentity, service, path string, buf []byte) ([]byte, error) {
	return f(ctx, dst, service, path, buf)
}

// Path returns the path a message is sent to, which is the name of its type.
func Path(msg interface{}) string {
	typ := reflect.TypeOf(msg)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return typ.Name()
}

// SendProtobuf sends msg to the path given by its type and decodes the reply
// into ret.
func SendProtobuf(ctx context.Context, t Transport, dst *network.ServerIdentity, service string,
	msg, ret interface{}) error {
	return Call(ctx, t, dst, service, Path(msg), msg, ret)
}

// Call encodes msg, sends it to the path of the service on dst and decodes
// the reply into ret. If ret is nil, the reply is ignored.
func Call(ctx context.Context, t Transport, dst *network.ServerIdentity, service, path string,
	msg, ret interface{}) error {
	if dst == nil {
		return ocs.Errorf(ocs.ErrCommunication, "no destination for %s/%s", service, path)
	}
	buf, err := Encode(msg)
	if err != nil {
		return err
	}
	log.Lvlf3("Sending %s/%s to %s", service, path, dst.Address)
	reply, err := t.Send(ctx, dst, service, path, buf)
	if err != nil {
		var kindErr *ocs.Error
		if xerrors.As(err, &kindErr) {
			if kindErr.Kind() == ocs.ErrCommunication {
				return err
			}
			return ocs.Errorf(ocs.ErrCommunication, "%s/%s: %v", service, path, err)
		}
		return ocs.Wrap(ocs.ErrCommunication, err, service+"/"+path)
	}
	if ret == nil {
		return nil
	}
	return Decode(reply, ret)
}

// Encode returns the protobuf representation of msg.
func Encode(msg interface{}) ([]byte, error) {
	buf, err := protobuf.Encode(msg)
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "encoding "+Path(msg))
	}
	return buf, nil
}

// Decode reads the protobuf representation in buf into ret, creating the
// kyber points and scalars of the suite.
func Decode(buf []byte, ret interface{}) error {
	err := protobuf.DecodeWithConstructors(buf, ret, network.DefaultConstructors(ocs.Suite))
	return ocs.Wrap(ocs.ErrCommunication, err, "decoding "+Path(ret))
}
