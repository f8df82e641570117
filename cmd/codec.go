package cmd

import (
	"github.com/luma/nearwire/atomicupdate"
	"github.com/luma/nearwire/internal/env"
	"github.com/luma/nearwire/marshal"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/transport"
)

// The near cache served by this binary maps string keys to raw values.
type nearResponse = atomicupdate.Response[string, []byte]

func newCodec(conf *env.Config) (*transport.Codec, error) {
	reg := protocol.NewRegistry()
	if err := atomicupdate.Register[string, []byte](reg); err != nil {
		return nil, err
	}

	res := marshal.NewResolver()
	if err := atomicupdate.RegisterErrors(res); err != nil {
		return nil, err
	}

	m, err := marshal.New(conf.Marshaller)
	if err != nil {
		return nil, err
	}

	return &transport.Codec{
		Registry:    reg,
		Marshaller:  m,
		Resolver:    res,
		BufferSize:  conf.BufferSize,
		MaxArrayLen: conf.MaxArrayLen,
	}, nil
}
