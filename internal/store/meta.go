package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/weekplate/internal/model"
)

// metaEnvelope is the persisted form of a GenerationMeta variant.
type metaEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeMeta(m model.GenerationMeta) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal meta: %w", err)
	}
	b, err := json.Marshal(metaEnvelope{Kind: m.MetaKind(), Data: data})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal meta envelope: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMeta(raw sql.NullString) (model.GenerationMeta, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var env metaEnvelope
	if err := json.Unmarshal([]byte(raw.String), &env); err != nil {
		return nil, fmt.Errorf("unmarshal meta envelope: %w", err)
	}

	var (
		m   model.GenerationMeta
		err error
	)
	switch env.Kind {
	case model.MetaProcessing:
		var v model.ProcessingMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case model.MetaDone:
		var v model.DoneMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case model.MetaError:
		var v model.ErrorMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case model.MetaFailed:
		var v model.FailedMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown meta kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s meta: %w", env.Kind, err)
	}
	return m, nil
}
