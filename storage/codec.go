// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"fmt"
	"sort"

	"github.com/tesseract-chain/ledgerstore/merkle"
	"github.com/tesseract-chain/ledgerstore/types"
)

// This file holds the binary (de)serializers for the records this
// package persists. All use the little-endian, length-prefixed scheme
// types.Encode*/Decode* implement (spec §3); see DESIGN.md for why
// that's stdlib rather than a third-party marshaler.

func encodeDiffRecord(hadOld bool, old []byte, hadNew bool, newV []byte) []byte {
	var out []byte
	out = append(out, boolByte(hadOld))
	out = append(out, types.EncodeBytes(old)...)
	out = append(out, boolByte(hadNew))
	out = append(out, types.EncodeBytes(newV)...)
	return out
}

func decodeDiffRecord(b []byte) (hadOld bool, old []byte, hadNew bool, newV []byte, err error) {
	if len(b) < 1 {
		return false, nil, false, nil, fmt.Errorf("%w: truncated diff record", types.ErrDecodingError)
	}
	hadOld = b[0] != 0
	old, n, err := types.DecodeBytes(b[1:])
	if err != nil {
		return false, nil, false, nil, err
	}
	off := 1 + n
	if off >= len(b) {
		return false, nil, false, nil, fmt.Errorf("%w: truncated diff record", types.ErrDecodingError)
	}
	hadNew = b[off] != 0
	newV, _, err = types.DecodeBytes(b[off+1:])
	if err != nil {
		return false, nil, false, nil, err
	}
	return hadOld, old, hadNew, newV, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeHeader(h *Header) []byte {
	var out []byte
	out = append(out, types.EncodeUint64(uint64(h.Height))...)
	out = append(out, types.EncodeUint64(uint64(h.Time))...)
	out = append(out, types.EncodeBytes([]byte(h.ChainID))...)
	return out
}

func decodeHeader(b []byte) (*Header, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: truncated header", types.ErrDecodingError)
	}
	height, err := types.DecodeUint64(b[:8])
	if err != nil {
		return nil, err
	}
	t, err := types.DecodeUint64(b[8:16])
	if err != nil {
		return nil, err
	}
	chainID, _, err := types.DecodeBytes(b[16:])
	if err != nil {
		return nil, err
	}
	return &Header{Height: types.BlockHeight(height), Time: types.BlockHeight(t), ChainID: string(chainID)}, nil
}

func encodeMeta(m *BlockMeta) []byte {
	var out []byte
	out = append(out, m.Hash[:]...)
	out = append(out, types.EncodeUint64(uint64(m.Epoch))...)
	out = append(out, types.EncodeUint64(uint64(m.NextEpochMinStartHeight))...)
	out = append(out, types.EncodeUint64(uint64(m.NextEpochMinStartTime))...)
	out = append(out, types.EncodeBytes(m.AddressGenSeed)...)
	out = append(out, types.EncodeUint64(m.AddressGenCounter)...)

	out = append(out, types.EncodeUint64(uint64(len(m.PredEpochs.Records)))...)
	for _, r := range m.PredEpochs.Records {
		out = append(out, types.EncodeUint64(uint64(r.Epoch))...)
		out = append(out, types.EncodeUint64(uint64(r.FirstHeight))...)
	}
	out = append(out, types.EncodeUint64(m.PredEpochs.EvidenceMaxAge)...)

	out = append(out, types.EncodeUint64(uint64(len(m.TxQueue)))...)
	for _, tx := range m.TxQueue {
		out = append(out, types.EncodeBytes(tx)...)
	}
	return out
}

func decodeMeta(b []byte) (*BlockMeta, error) {
	if len(b) < 32 {
		return nil, fmt.Errorf("%w: truncated block meta", types.ErrDecodingError)
	}
	m := &BlockMeta{}
	copy(m.Hash[:], b[:32])
	off := 32

	readU64 := func() (uint64, error) {
		if off+8 > len(b) {
			return 0, fmt.Errorf("%w: truncated block meta", types.ErrDecodingError)
		}
		v, err := types.DecodeUint64(b[off : off+8])
		off += 8
		return v, err
	}
	readBytes := func() ([]byte, error) {
		v, n, err := types.DecodeBytes(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		return v, nil
	}

	epoch, err := readU64()
	if err != nil {
		return nil, err
	}
	m.Epoch = types.Epoch(epoch)

	nextH, err := readU64()
	if err != nil {
		return nil, err
	}
	m.NextEpochMinStartHeight = types.BlockHeight(nextH)

	nextT, err := readU64()
	if err != nil {
		return nil, err
	}
	m.NextEpochMinStartTime = int64(nextT)

	seed, err := readBytes()
	if err != nil {
		return nil, err
	}
	m.AddressGenSeed = seed

	ctr, err := readU64()
	if err != nil {
		return nil, err
	}
	m.AddressGenCounter = ctr

	nRecords, err := readU64()
	if err != nil {
		return nil, err
	}
	m.PredEpochs = types.NewEpochs()
	records := make([]types.EpochRecord, nRecords)
	for i := range records {
		e, err := readU64()
		if err != nil {
			return nil, err
		}
		h, err := readU64()
		if err != nil {
			return nil, err
		}
		records[i] = types.EpochRecord{Epoch: types.Epoch(e), FirstHeight: types.BlockHeight(h)}
	}
	m.PredEpochs.Records = records
	maxAge, err := readU64()
	if err != nil {
		return nil, err
	}
	m.PredEpochs.EvidenceMaxAge = maxAge

	nTx, err := readU64()
	if err != nil {
		return nil, err
	}
	m.TxQueue = make([][]byte, nTx)
	for i := range m.TxQueue {
		tx, err := readBytes()
		if err != nil {
			return nil, err
		}
		m.TxQueue[i] = tx
	}
	return m, nil
}

// encodeStores flattens a merkle.StoresWrite (a map of sub-tree name
// to encoded leaf list) into one ordered byte blob. Sub-tree names are
// sorted so the encoding is deterministic regardless of map iteration
// order.
func encodeStores(s *merkle.StoresWrite) []byte {
	names := make([]string, 0, len(s.SubTrees))
	for name := range s.SubTrees {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []byte
	out = append(out, boolByte(s.BridgePoolEnabled))
	out = append(out, types.EncodeUint64(uint64(len(names)))...)
	for _, name := range names {
		out = append(out, types.EncodeBytes([]byte(name))...)
		out = append(out, types.EncodeBytes(s.SubTrees[name])...)
	}
	return out
}

func decodeStores(b []byte) (*merkle.StoresRead, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: truncated tree stores", types.ErrDecodingError)
	}
	s := &merkle.StoresWrite{BridgePoolEnabled: b[0] != 0, SubTrees: map[string][]byte{}}
	off := 1
	count, err := types.DecodeUint64(b[off : off+8])
	if err != nil {
		return nil, err
	}
	off += 8
	for i := uint64(0); i < count; i++ {
		name, n, err := types.DecodeBytes(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		raw, n, err := types.DecodeBytes(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		s.SubTrees[string(name)] = raw
	}
	return s, nil
}
