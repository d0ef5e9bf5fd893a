package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/and161185/callrelay/internal/api"
)

const rpcTimeout = 10 * time.Second

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rpcTimeout)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseDescription accepts either a {"type","sdp"} JSON object or a raw SDP
// body. kind ("offer" or "answer") fills a missing type.
func parseDescription(raw []byte, kind string) (webrtc.SessionDescription, error) {
	want := webrtc.NewSDPType(kind)
	if want == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown description kind %q", kind)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return webrtc.SessionDescription{}, errors.New("empty SDP")
	}

	var desc webrtc.SessionDescription
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &desc); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("parse description: %w", err)
		}
	} else {
		desc.SDP = normalizeSDP(string(trimmed))
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, errors.New("empty SDP")
	}
	if desc.Type == webrtc.SDPTypeUnknown {
		desc.Type = want
	}
	return desc, nil
}

// normalizeSDP rewrites line endings to CRLF and terminates the last line.
func normalizeSDP(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n") + "\r\n"
}

// buildCandidate assembles a candidate request; mline < 0 and empty strings
// leave the optional fields unset.
func buildCandidate(callID, line, mid string, mline int, ufrag string) (*api.CandidateRequest, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("empty candidate")
	}
	req := &api.CandidateRequest{CallID: callID, Candidate: line}
	if mid != "" {
		req.SDPMid = &mid
	}
	if mline >= 0 {
		if mline > 0xFFFF {
			return nil, fmt.Errorf("mline %d out of range", mline)
		}
		idx := uint16(mline)
		req.SDPMLineIndex = &idx
	}
	if ufrag != "" {
		req.UsernameFragment = &ufrag
	}
	return req, nil
}

// formatEvent renders one event as a single line.
func formatEvent(ev api.Event) string {
	head := fmt.Sprintf("#%d %s %s call=%s", ev.Seq, ev.EnqueuedAt.Format(time.RFC3339), ev.Type, ev.CallID)
	switch {
	case ev.From != "":
		name := ev.FromName
		if name == "" {
			name = ev.From
		}
		return fmt.Sprintf("%s from=%s (%s)", head, ev.From, name)
	case ev.Description != nil:
		return fmt.Sprintf("%s sdp-type=%s sdp-bytes=%d", head, ev.Description.Type, len(ev.Description.SDP))
	case ev.Candidate != nil:
		return fmt.Sprintf("%s candidate=%q", head, ev.Candidate.Candidate)
	}
	return head
}
