package host

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/guess"
	"github.com/DoyleJ11/drawsync/internal/judge"
)

type judgeJob struct {
	round    uint64
	prompt   string
	players  []string
	drawings map[string][]drawing.Line
	last     guess.Table
}

// startJudge hands a snapshot of the round to a judge goroutine. At most
// one judge round runs at a time.
func (h *Host) startJudge() {
	if h.judging || !h.state.Drawable() {
		return
	}
	h.judging = true
	job := judgeJob{
		round:    h.round,
		prompt:   h.state.Prompt,
		players:  append([]string{}, h.order...),
		drawings: h.snapshotDrawings(),
		last:     h.last.Clone(),
	}
	go func() {
		res := h.judge(h.ctx, job)
		select {
		case h.inbox <- res:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Host) judge(ctx context.Context, job judgeJob) Judged {
	res := Judged{Round: job.round}

	guesses, err := h.makeGuesses(ctx, job)
	if err != nil {
		res.Err = err
		return res
	}
	res.Guesses = guesses
	if guesses.Equal(job.last) {
		return res
	}
	res.Changed = true

	winners, err := h.opts.Referee.Winners(ctx, job.prompt, guesses)
	if err != nil {
		res.Err = err
		return res
	}
	res.Winners = winners
	return res
}

func (h *Host) makeGuesses(ctx context.Context, job judgeJob) (guess.Table, error) {
	out := guess.Table{}
	for _, id := range job.players {
		lines := job.drawings[id]
		hash := drawing.Hash(lines)

		g, cached := h.cache.Get(hash)
		if !cached {
			if len(lines) == 0 {
				continue
			}
			var err error
			g, err = h.opts.Guesser.Guess(ctx, id, lines)
			if err != nil {
				return nil, err
			}
			h.cache.Set(hash, g)
			h.log.Debug("made new guess", zap.String("player", id), zap.String("guess", g))
		}
		if g != judge.NoGuess {
			out[id] = g
		}
	}
	return out, nil
}

// judged applies a judge round unless the round it looked at is over.
func (h *Host) judged(res Judged) {
	h.judging = false
	if res.Round != h.round || !h.state.Drawable() {
		return
	}
	if res.Err != nil {
		h.log.Warn("failed to check winners", zap.Error(res.Err))
		return
	}
	if !res.Changed {
		return
	}

	h.last = res.Guesses
	if err := guess.Publish(h.ctx, h.room, res.Guesses); err != nil {
		h.log.Warn("failed to publish guesses", zap.Error(err))
	}
	if len(res.Winners) > 0 {
		h.log.Info("found winners", zap.Int("count", len(res.Winners)))
		h.endGame(res.Winners)
	}
}
