package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/engine"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

// StartGame asks the host to begin a round. An empty prompt lets the host
// pick one. The returned flag is the host's answer; the new state itself
// arrives through the room metadata.
func (s *Session) StartGame(ctx context.Context, prompt string) (bool, error) {
	host, err := s.hostInfo(ctx)
	if err != nil {
		return false, err
	}
	if host.Identity == "" {
		return false, ErrNoHost
	}
	if host.Game.Started {
		return false, engine.ErrGameInProgress
	}

	var resp types.StartGameResponse
	if err := s.call(ctx, host.Identity, types.MethodStartGame, types.StartGameRequest{Prompt: prompt}, &resp); err != nil {
		return false, err
	}
	return resp.Started, nil
}

// EndGame asks the host to stop the current round without winners.
func (s *Session) EndGame(ctx context.Context) (bool, error) {
	host, err := s.hostInfo(ctx)
	if err != nil {
		return false, err
	}
	if host.Identity == "" {
		return false, ErrNoHost
	}
	if !host.Game.Started {
		return false, engine.ErrGameNotStarted
	}

	var resp types.EndGameResponse
	if err := s.call(ctx, host.Identity, types.MethodEndGame, nil, &resp); err != nil {
		return false, err
	}
	return resp.Stopped, nil
}

// UpdateDifficulty asks the host to change the difficulty between rounds.
func (s *Session) UpdateDifficulty(ctx context.Context, d engine.Difficulty) (bool, error) {
	if !d.Valid() {
		return false, engine.ErrInvalidDifficulty
	}
	host, err := s.hostInfo(ctx)
	if err != nil {
		return false, err
	}
	if host.Identity == "" {
		return false, ErrNoHost
	}
	if host.Game.Started {
		return false, engine.ErrGameInProgress
	}

	var resp types.UpdateDifficultyResponse
	req := types.UpdateDifficultyRequest{Difficulty: string(d)}
	if err := s.call(ctx, host.Identity, types.MethodUpdateDifficulty, req, &resp); err != nil {
		return false, err
	}
	return resp.Updated, nil
}

func (s *Session) call(ctx context.Context, host, method string, req, resp any) error {
	payload := ""
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		payload = string(b)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RPCTimeout)
	defer cancel()

	body, err := s.room.PerformRPC(callCtx, host, method, payload)
	if err != nil {
		s.log.Warn("host call failed", zap.String("method", method), zap.Error(err))
		return err
	}
	return decodeJSON(body, resp)
}

func decodeJSON(body string, v any) error {
	if body == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
