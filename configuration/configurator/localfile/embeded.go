package localfile

import (
	"context"
	_ "embed"
	"errors"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/liam-kelly/luna-sysmgr/configuration"
	"github.com/liam-kelly/luna-sysmgr/configuration/configurator"
)

func init() {
	configurator.Register("embed", configurator.FactoryFunc(NewEmbedded))
}

//go:embed config_default.json
var configDefault []byte

type Embedded struct{}

func (Embedded) Get(ctx context.Context) (*configuration.Config, error) {
	return decodeJSON(configDefault)
}

func NewEmbedded(path string) (configurator.Configurator, error) {
	if len(configDefault) == 0 {
		return nil, errors.New("embedded config is empty")
	}
	return Embedded{}, nil
}

func decodeJSON(body []byte) (*configuration.Config, error) {
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(body, st); err != nil {
		return nil, err
	}
	return configuration.FromStruct(st)
}
