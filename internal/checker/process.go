package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Minoru/minoru-fediverse-crawler"
	"github.com/Minoru/minoru-fediverse-crawler/internal/domain"
	"github.com/Minoru/minoru-fediverse-crawler/internal/policy"
	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
)

// Outcome summarizes what Process did, for the orchestrator's operator log line.
type Outcome struct {
	Host        string
	Result      string // "alive", "dying-or-dead", "moving", "moved", "protocol-violation", "spawn-failed"
	PeersFound  int
	PeersAdded  int
	Err         error
}

// Process spawns the checker for host, reads its event stream, and drives
// reg's state machine. It calls exactly one mark* on reg for host (MarkDead
// for a spawn failure, EOF before any state, or a peer before any state),
// except when the first state line names an unknown state, which records
// nothing.
func Process(ctx context.Context, reg *registry.Registry, admit *policy.Admitter, exePath, host string) Outcome {
	out := Outcome{Host: host}

	h, err := Start(ctx, exePath, host)
	if err != nil {
		out.Err = err
		out.Result = "spawn-failed"
		if markErr := reg.MarkDead(ctx, host); markErr != nil {
			slog.Error("markdead after spawn failure", "host", host, "error", markErr)
		}
		return out
	}

	scanner := h.Scanner()
	sawState := false
	var peerCount uint64

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Warn("checker emitted unparseable line", "host", host, "check_id", h.CheckID(), "line", string(line), "error", err)
			continue
		}

		if ev.Peer != nil {
			if !sawState {
				out.Result = "protocol-violation"
				out.Err = fedicrawl.NewErrorWithData(fedicrawl.ProtocolViolation,
					fmt.Errorf("peer event before any state event"), host)
				_ = h.Abort()
				if markErr := reg.MarkDead(ctx, host); markErr != nil {
					slog.Error("markdead after protocol violation", "host", host, "error", markErr)
				}
				return out
			}
			out.PeersFound++
			if peerCount != ^uint64(0) {
				peerCount++
			}
			if added := admitAndAddPeer(ctx, reg, admit, host, ev.Peer.Peer); added {
				out.PeersAdded++
			}
			continue
		}

		if ev.State == nil {
			continue
		}

		if sawState {
			out.Result = "protocol-violation"
			out.Err = fedicrawl.NewErrorWithData(fedicrawl.ProtocolViolation,
				fmt.Errorf("second state event in one check"), host)
			_ = h.Abort()
			return out
		}
		sawState = true

		switch ev.State.State {
		case stateAlive:
			out.Result = "alive"
			if err := reg.MarkAlive(ctx, host, ev.State.HideFromList); err != nil {
				out.Err = err
			}
		case stateMoving:
			// A Moving report is treated as a temporary failure: the source
			// is unreachable right now, so the instance goes through the
			// normal Dying/Dead path rather than being recorded as moved.
			out.Result = "moving"
			if err := reg.MarkDead(ctx, host); err != nil {
				out.Err = err
			}
		case stateMoved:
			out.Result = handleMoved(ctx, reg, admit, host, ev.State.To, &out.Err)
		default:
			slog.Warn("checker emitted unknown state", "host", host, "state", ev.State.State)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("checker stdout read error", "host", host, "check_id", h.CheckID(), "error", err)
	}

	if !sawState {
		// EOF before any state line means the instance is unreachable.
		out.Result = "dying-or-dead"
		if err := reg.MarkDead(ctx, host); err != nil {
			out.Err = err
		}
		if err := h.Close(); err != nil {
			slog.Debug("checker process exit", "host", host, "error", err)
		}
		return out
	}

	if err := h.Close(); err != nil {
		slog.Debug("checker process exit", "host", host, "error", err)
	}
	return out
}

func handleMoved(ctx context.Context, reg *registry.Registry, admit *policy.Admitter, host, to string, errOut *error) string {
	if to == host {
		// Degenerate self-redirect: treat as dead rather than moved.
		if err := reg.MarkDead(ctx, host); err != nil {
			*errOut = err
		}
		return "moving"
	}

	if !domain.IsValid(to) {
		*errOut = fedicrawl.NewErrorWithData(fedicrawl.BadDomain, fmt.Errorf("invalid redirect target"), to)
		if err := reg.MarkDead(ctx, host); err != nil {
			*errOut = err
		}
		return "moving"
	}

	ok, err := admit.Admit(to, policy.SourceRedirect)
	if err != nil {
		slog.Warn("admission policy error for redirect target", "target", to, "error", err)
	}
	if !ok {
		slog.Info("redirect target rejected by admission policy", "host", host, "target", to)
		if err := reg.MarkDead(ctx, host); err != nil {
			*errOut = err
		}
		return "moving"
	}

	if err := reg.MarkMoved(ctx, host, to); err != nil {
		*errOut = err
	}
	return "moved"
}

func admitAndAddPeer(ctx context.Context, reg *registry.Registry, admit *policy.Admitter, host, peer string) bool {
	d, err := domain.Parse(peer)
	if err != nil {
		slog.Debug("peer failed domain validation", "host", host, "peer", peer, "error", err)
		return false
	}

	ok, err := admit.Admit(d.String(), policy.SourcePeer)
	if err != nil {
		slog.Warn("admission policy error for peer", "peer", d.String(), "error", err)
	}
	if !ok {
		slog.Debug("peer rejected by admission policy", "host", host, "peer", d.String())
		return false
	}

	addErr := registry.WithBoundedRetry(ctx, func() error {
		return reg.AddInstance(ctx, d.String())
	})
	if addErr != nil {
		slog.Warn("failed to add discovered peer", "host", host, "peer", d.String(), "error", addErr)
		return false
	}
	return true
}
