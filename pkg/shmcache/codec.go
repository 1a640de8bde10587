package shmcache

// Codec converts between a caller's Go values and the raw bytes stored
// inline on a page. The default, RawCodec, is a passthrough for
// callers that already work in []byte (Options.RawValues); Options can
// supply another Codec (e.g. encoding/gob or encoding/json) to store
// arbitrary values transparently.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte, out any) error
}

// RawCodec requires callers to pass and receive []byte directly. It
// exists so the facade always has a Codec to call, even when
// Options.RawValues is set and no encoding is wanted.
type RawCodec struct{}

func (RawCodec) Encode(value any) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, wrapf(ErrConfigInvalid, "RawCodec: value must be []byte, got %T", value)
	}

	return b, nil
}

func (RawCodec) Decode(data []byte, out any) error {
	ptr, ok := out.(*[]byte)
	if !ok {
		return wrapf(ErrConfigInvalid, "RawCodec: out must be *[]byte, got %T", out)
	}

	*ptr = data

	return nil
}
