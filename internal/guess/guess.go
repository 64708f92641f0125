package guess

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

// Table maps a participant identity to the host's latest guess for their
// drawing. It is always sent whole.
type Table map[string]string

func (t Table) Encode() ([]byte, error) {
	if t == nil {
		t = Table{}
	}
	data, err := json.Marshal(map[string]string(t))
	if err != nil {
		return nil, fmt.Errorf("encode guesses: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Table, error) {
	t := Table{}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode guesses: %w", err)
	}
	return t, nil
}

func (t Table) Clone() Table {
	if t == nil {
		return Table{}
	}
	return maps.Clone(t)
}

func (t Table) Equal(o Table) bool {
	return maps.Equal(t, o)
}

// Publish broadcasts the full table on host.guess.
func Publish(ctx context.Context, pub transport.Publisher, t Table) error {
	data, err := t.Encode()
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, types.TopicGuess, data); err != nil {
		return fmt.Errorf("publish guesses: %w", err)
	}
	return nil
}
