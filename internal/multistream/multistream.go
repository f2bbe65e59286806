// Package multistream implements protocol negotiation over a raw
// stream: the initiator proposes protocol ids one at a time, the
// responder accepts the first it recognizes or rejects with "na", per
// the multistream-select convention.
package multistream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	varint "github.com/multiformats/go-varint"

	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("multistream")

// MultistreamID is the negotiation protocol's own version header.
const MultistreamID = "/multistream/1.0.0"

const (
	cmdNA = "na"
	cmdLS = "ls"
)

// ErrNoSupportedProtocol is returned when the responder rejects every
// protocol the initiator offered.
var ErrNoSupportedProtocol = errors.New("multistream: no supported protocol")

// HandlerLookup resolves a negotiated protocol id to "supported"; match
// functions (SetStreamHandlerMatch) are consulted via the same signature.
type HandlerLookup func(types.ProtocolID) bool

// SelectOne is the initiator side: offer protos in order until the
// responder ACKs one, or return ErrNoSupportedProtocol.
func SelectOne(rw io.ReadWriter, protos []types.ProtocolID, timeout time.Duration) (types.ProtocolID, error) {
	br := bufio.NewReader(rw)
	if err := writeLine(rw, MultistreamID); err != nil {
		return "", err
	}
	echoed, err := readLineTimeout(br, rw, timeout)
	if err != nil {
		return "", err
	}
	if echoed != MultistreamID {
		return "", fmt.Errorf("multistream: unexpected header %q", echoed)
	}
	for _, proto := range protos {
		if err := writeLine(rw, string(proto)); err != nil {
			return "", err
		}
		resp, err := readLineTimeout(br, rw, timeout)
		if err != nil {
			return "", err
		}
		if resp == string(proto) {
			return proto, nil
		}
		// anything other than the echoed proto (typically "na") is a
		// rejection; continue to the next candidate.
	}
	return "", ErrNoSupportedProtocol
}

// Negotiate is the responder side: read proposed protocol ids until one
// is supported (per isSupported), ack it, and return it; unsupported
// proposals get "na". "ls" lists the supported protocols passed in.
func Negotiate(rw io.ReadWriter, supported []types.ProtocolID, isSupported HandlerLookup, timeout time.Duration) (types.ProtocolID, error) {
	br := bufio.NewReader(rw)
	line, err := readLineTimeout(br, rw, timeout)
	if err != nil {
		return "", err
	}
	if line != MultistreamID {
		return "", fmt.Errorf("multistream: unexpected header %q", line)
	}
	if err := writeLine(rw, MultistreamID); err != nil {
		return "", err
	}
	for {
		line, err := readLineTimeout(br, rw, timeout)
		if err != nil {
			return "", err
		}
		switch line {
		case cmdLS:
			if err := writeProtocolList(rw, supported); err != nil {
				return "", err
			}
			continue
		case cmdNA:
			continue
		default:
			proto := types.ProtocolID(line)
			if isSupported(proto) {
				if err := writeLine(rw, line); err != nil {
					return "", err
				}
				return proto, nil
			}
			if err := writeLine(rw, cmdNA); err != nil {
				return "", err
			}
		}
	}
}

func writeProtocolList(w io.Writer, protos []types.ProtocolID) error {
	for _, p := range protos {
		if err := writeLine(w, string(p)); err != nil {
			return err
		}
	}
	return writeLine(w, "")
}

// writeLine frames s as a varint-length-prefixed, newline-terminated
// message, matching the unsigned-varint length-prefix convention used
// throughout this module's wire formats (spec §6).
func writeLine(w io.Writer, s string) error {
	msg := s + "\n"
	prefix := varint.ToUvarint(uint64(len(msg)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := io.WriteString(w, msg)
	return err
}

type deadlineSetter interface {
	SetReadDeadline(time.Time) error
}

// readLineTimeout reads one frame from br, the single persistent
// buffered reader wrapping conn for the lifetime of one negotiation
// (a fresh bufio.Reader per call would silently discard any bytes it
// had already buffered past the frame boundary).
func readLineTimeout(br *bufio.Reader, conn io.Reader, timeout time.Duration) (string, error) {
	if ds, ok := conn.(deadlineSetter); ok && timeout > 0 {
		_ = ds.SetReadDeadline(time.Now().Add(timeout))
		defer ds.SetReadDeadline(time.Time{})
	}
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		return "", errors.New("multistream: malformed line, missing terminator")
	}
	return string(buf[:len(buf)-1]), nil
}
