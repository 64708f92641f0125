package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

func decodePayload(payload string, v any) error {
	if payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func encodeResponse(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ask posts m to the loop and waits for its reply.
func ask[T any](ctx context.Context, h *Host, m Msg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Host) handleStartGame(ctx context.Context, inv transport.Invocation) (string, error) {
	var req types.StartGameRequest
	if err := decodePayload(inv.Payload, &req); err != nil {
		return "", err
	}
	reply := make(chan types.StartGameResponse, 1)
	resp, err := ask(ctx, h, StartGame{Prompt: req.Prompt, Reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return encodeResponse(resp)
}

func (h *Host) handleEndGame(ctx context.Context, _ transport.Invocation) (string, error) {
	reply := make(chan types.EndGameResponse, 1)
	resp, err := ask(ctx, h, EndGame{Reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return encodeResponse(resp)
}

func (h *Host) handleUpdateDifficulty(ctx context.Context, inv transport.Invocation) (string, error) {
	var req types.UpdateDifficultyRequest
	if err := decodePayload(inv.Payload, &req); err != nil {
		return "", err
	}
	reply := make(chan types.UpdateDifficultyResponse, 1)
	resp, err := ask(ctx, h, UpdateDifficulty{Difficulty: req.Difficulty, Reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return encodeResponse(resp)
}
