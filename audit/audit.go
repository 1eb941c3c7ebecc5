// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package audit appends raw deltas to an external journal for later
// inspection. The pipeline defines the record shape but does not own the
// journal's storage; any io.Writer will do. Records are chained with a
// running digest so truncation or tampering is detectable on replay.
package audit

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/blang/semver/v4"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"github.com/0xwonj/dungeon-sub001/diff"
)

// Version of the journal format. Readers accept any journal sharing the
// same major version.
const Version = "1.0.0"

// ErrChainBroken reported when a record's digest does not extend the
// running chain.
var ErrChainBroken = errors.New("journal chain broken")

// ErrVersionMismatch reported when a journal was written by an
// incompatible format version.
var ErrVersionMismatch = errors.New("incompatible journal version")

type header struct {
	Version     string
	EntityDepth int
	WorldDepth  int
}

type record struct {
	Payload []byte // deterministic CBOR encoding of the delta
	Digest  []byte // sha3-256(prevDigest ‖ payload)
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err) // static options
	}
}

// Writer appends deltas to a journal. Not safe for concurrent use; the
// sequential conversion queue is the only intended producer.
type Writer struct {
	enc  *cbor.Encoder
	prev [32]byte
}

// NewWriter writes the journal header and returns a writer positioned for
// the first record. The tree depths ride in the header so a replayer can
// rebuild matching commitments.
func NewWriter(w io.Writer, entityDepth, worldDepth int) (*Writer, error) {
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(header{Version: Version, EntityDepth: entityDepth, WorldDepth: worldDepth}); err != nil {
		return nil, err
	}
	return &Writer{enc: enc}, nil
}

// Append writes one delta record and advances the chain.
func (w *Writer) Append(d *diff.Delta) error {
	payload, err := encMode.Marshal(d)
	if err != nil {
		return err
	}
	digest := chain(w.prev, payload)
	if err := w.enc.Encode(record{Payload: payload, Digest: digest[:]}); err != nil {
		return err
	}
	w.prev = digest
	return nil
}

// Reader replays a journal, re-checking the digest chain record by record.
type Reader struct {
	dec  *cbor.Decoder
	prev [32]byte

	EntityDepth int
	WorldDepth  int
}

// NewReader reads and version-gates the journal header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, err
	}
	v, err := semver.Parse(h.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrVersionMismatch, h.Version)
	}
	cur := semver.MustParse(Version)
	if v.Major != cur.Major {
		return nil, fmt.Errorf("%w: journal %s, reader %s", ErrVersionMismatch, h.Version, Version)
	}
	return &Reader{dec: dec, EntityDepth: h.EntityDepth, WorldDepth: h.WorldDepth}, nil
}

// Next returns the next delta, io.EOF at the end of the journal.
func (r *Reader) Next() (*diff.Delta, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		return nil, err
	}
	digest := chain(r.prev, rec.Payload)
	if !bytes.Equal(digest[:], rec.Digest) {
		return nil, ErrChainBroken
	}
	r.prev = digest

	var d diff.Delta
	if err := cbor.Unmarshal(rec.Payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func chain(prev [32]byte, payload []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(prev[:])
	_, _ = h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
