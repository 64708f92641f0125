// Package catchup recovers the complete current drawing of peers that were
// already present when a participant joined.
package catchup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

// Handler answers player.get_drawing with the caller's own log, encoded
// as base64 of the concatenated line records.
func Handler(snapshot func(ctx context.Context) ([]drawing.Line, error)) transport.RPCHandler {
	return func(ctx context.Context, _ transport.Invocation) (string, error) {
		lines, err := snapshot(ctx)
		if err != nil {
			return "", err
		}
		return drawing.EncodeBase64(lines), nil
	}
}

// Fetch asks peer for its current drawing.
func Fetch(ctx context.Context, caller transport.Caller, peer string) ([]drawing.Line, error) {
	body, err := caller.PerformRPC(ctx, peer, types.MethodGetDrawing, "")
	if err != nil {
		return nil, err
	}
	lines, err := drawing.DecodeBase64(body)
	if err != nil {
		return nil, fmt.Errorf("drawing from %s: %w", peer, err)
	}
	return lines, nil
}

type Result struct {
	Peer  string
	Lines []drawing.Line
	Err   error
}

type Report struct {
	Loaded []string
	Failed map[string]error
}

func (r Report) Complete() bool { return len(r.Failed) == 0 }

// FetchAll fetches every peer concurrently, each bounded by timeout
// (zero means only ctx bounds it). A failing peer never stops the others;
// deliver is called exactly once per peer as soon as its result is known.
//
// Callers must already be subscribed to live drawing events, otherwise
// lines drawn while the RPC is in flight are lost.
func FetchAll(ctx context.Context, log *zap.Logger, caller transport.Caller, peers []string, timeout time.Duration, deliver func(Result)) Report {
	var (
		mu     sync.Mutex
		report = Report{Failed: make(map[string]error)}
	)

	var g errgroup.Group
	for _, peer := range peers {
		g.Go(func() error {
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			lines, err := Fetch(callCtx, caller, peer)
			if err != nil {
				log.Warn("catch-up skipped peer", zap.String("peer", peer), zap.Error(err))
			} else {
				log.Debug("caught up peer", zap.String("peer", peer), zap.Int("lines", len(lines)))
			}

			mu.Lock()
			if err != nil {
				report.Failed[peer] = err
			} else {
				report.Loaded = append(report.Loaded, peer)
			}
			mu.Unlock()

			deliver(Result{Peer: peer, Lines: lines, Err: err})
			// per-peer failures stay isolated from the group
			return nil
		})
	}
	// every goroutine returns nil, failures are in report
	_ = g.Wait()

	sort.Strings(report.Loaded)
	return report
}
