package protoutil

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func ProtoEqualError(a, b proto.Message) error {
	if !proto.Equal(a, b) {
		return errors.Errorf("%s != %s", protojson.Format(a), protojson.Format(b))
	}

	return nil
}

// StructSubsetError checks that every field of expected is present in actual
// with an equal value. Fields only present in actual are ignored.
func StructSubsetError(expected, actual *structpb.Struct) error {
	for name, want := range expected.GetFields() {
		got, ok := actual.GetFields()[name]
		if !ok {
			return errors.Errorf("missing field %q", name)
		}
		if err := ProtoEqualError(want, got); err != nil {
			return errors.Wrapf(err, "field %q", name)
		}
	}

	return nil
}
