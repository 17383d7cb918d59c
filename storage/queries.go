// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tesseract-chain/ledgerstore/types"
)

// Validator lookup failures (spec §4.F); distinct from the core
// taxonomy in types/errors.go since they're specific to this facet.
var (
	ErrNotValidatorKey     = errors.New("not a validator: unknown protocol public key")
	ErrNotValidatorAddress = errors.New("not a validator: unknown address")
	ErrNotValidatorKeyHash = errors.New("not a validator: unknown tendermint address hash")
	ErrInvalidTMAddress    = errors.New("invalid tendermint address")
)

const tmAddressLen = 20

// WeightedValidator pairs a validator's address with its voting power
// at some epoch (spec §4.F).
type WeightedValidator struct {
	Address     types.Address
	VotingPower uint64
}

// EthAddrBook is a validator's Ethereum hot/cold key pair (glossary).
type EthAddrBook struct {
	Hot  types.Address
	Cold types.Address
}

// EthAddrBookEntry is one item GetActiveEthAddresses yields.
type EthAddrBookEntry struct {
	Book        EthAddrBook
	Address     types.Address
	VotingPower uint64
}

// EthAddressIterator is the finite, non-restartable sequence
// GetActiveEthAddresses returns.
type EthAddressIterator struct {
	entries []EthAddrBookEntry
	idx     int
}

func (it *EthAddressIterator) Next() bool { it.idx++; return it.idx < len(it.entries) }
func (it *EthAddressIterator) Item() EthAddrBookEntry { return it.entries[it.idx] }

// Queries is the read-through validator/balance facet layered on
// Storage (component F, spec §4.F). Its Get* methods never mutate
// state; the Set* helpers write through Storage.Write.
type Queries struct {
	s *Storage
}

// NewQueries wraps s with the queries facet.
func NewQueries(s *Storage) *Queries { return &Queries{s: s} }

func (q *Queries) resolveEpoch(epoch *types.Epoch) types.Epoch {
	if epoch != nil {
		return *epoch
	}
	return q.s.lastEpoch
}

// Canonical key layout under the PoS internal address for the
// per-epoch validator set this facet reads. An external PoS module is
// the out-of-scope (spec §1) writer in a full node; the setters below
// exist so this package and its tests can populate the same layout.

func validatorSetKey(epoch types.Epoch) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator_set", formatEpoch(epoch))
}

func validatorPowerKey(epoch types.Epoch, addr types.Address) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator", formatEpoch(epoch), addr.Raw, "power")
}

func validatorProtocolPKKey(epoch types.Epoch, addr types.Address) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator", formatEpoch(epoch), addr.Raw, "protocol_pk")
}

func validatorTMAddressKey(epoch types.Epoch, addr types.Address) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator", formatEpoch(epoch), addr.Raw, "tm_address")
}

func validatorEthHotKey(epoch types.Epoch, addr types.Address) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator", formatEpoch(epoch), addr.Raw, "eth_hot")
}

func validatorEthColdKey(epoch types.Epoch, addr types.Address) types.Key {
	return types.NewKey(types.AddressPoS.Raw, "validator", formatEpoch(epoch), addr.Raw, "eth_cold")
}

// BalanceKey is the subspace key a token/owner balance is stored
// under (spec §4.F `get_balance`).
func BalanceKey(token, owner types.Address) types.Key {
	return types.NewKey(token.Raw, "balance", owner.Raw)
}

func formatEpoch(e types.Epoch) string { return fmt.Sprintf("%d", uint64(e)) }

func encodeAddress(a types.Address) []byte {
	out := []byte{byte(a.Kind)}
	return append(out, types.EncodeBytes([]byte(a.Raw))...)
}

func decodeAddress(b []byte) (types.Address, int, error) {
	if len(b) < 1 {
		return types.Address{}, 0, fmt.Errorf("%w: truncated address", types.ErrDecodingError)
	}
	raw, n, err := types.DecodeBytes(b[1:])
	if err != nil {
		return types.Address{}, 0, err
	}
	return types.Address{Kind: types.AddressKind(b[0]), Raw: string(raw)}, 1 + n, nil
}

func encodeAddressList(addrs []types.Address) []byte {
	out := types.EncodeUint64(uint64(len(addrs)))
	for _, a := range addrs {
		out = append(out, encodeAddress(a)...)
	}
	return out
}

func decodeAddressList(b []byte) ([]types.Address, error) {
	if len(b) == 0 {
		return nil, nil
	}
	count, err := types.DecodeUint64(b[:8])
	if err != nil {
		return nil, err
	}
	off := 8
	out := make([]types.Address, count)
	for i := uint64(0); i < count; i++ {
		a, n, err := decodeAddress(b[off:])
		if err != nil {
			return nil, err
		}
		out[i] = a
		off += n
	}
	return out, nil
}

// SetActiveValidators writes epoch's validator set and each member's
// voting power, in this facet's canonical layout.
func (q *Queries) SetActiveValidators(epoch types.Epoch, validators []WeightedValidator) error {
	addrs := make([]types.Address, len(validators))
	for i, v := range validators {
		addrs[i] = v.Address
	}
	if _, _, err := q.s.Write(validatorSetKey(epoch), encodeAddressList(addrs)); err != nil {
		return err
	}
	for _, v := range validators {
		if _, _, err := q.s.Write(validatorPowerKey(epoch, v.Address), types.EncodeAmount(v.VotingPower)); err != nil {
			return err
		}
	}
	return nil
}

// SetValidatorKeys records addr's protocol public key and tendermint
// address hash at epoch.
func (q *Queries) SetValidatorKeys(epoch types.Epoch, addr types.Address, protocolPK, tmAddress []byte) error {
	if _, _, err := q.s.Write(validatorProtocolPKKey(epoch, addr), protocolPK); err != nil {
		return err
	}
	_, _, err := q.s.Write(validatorTMAddressKey(epoch, addr), tmAddress)
	return err
}

// SetValidatorEthAddresses records addr's Ethereum hot/cold keys at epoch.
func (q *Queries) SetValidatorEthAddresses(epoch types.Epoch, addr types.Address, hot, cold types.Address) error {
	if _, _, err := q.s.Write(validatorEthHotKey(epoch, addr), []byte(hot.Raw)); err != nil {
		return err
	}
	_, _, err := q.s.Write(validatorEthColdKey(epoch, addr), []byte(cold.Raw))
	return err
}

// SetBalance writes owner's token balance.
func (q *Queries) SetBalance(token, owner types.Address, amount uint64) error {
	_, _, err := q.s.Write(BalanceKey(token, owner), types.EncodeAmount(amount))
	return err
}

// GetActiveValidators returns epoch's validator set ordered by
// descending voting power, ties broken by address (spec §4.F).
func (q *Queries) GetActiveValidators(epoch *types.Epoch) ([]WeightedValidator, error) {
	e := q.resolveEpoch(epoch)
	raw, _, err := q.s.Read(validatorSetKey(e))
	if err != nil {
		return nil, err
	}
	addrs, err := decodeAddressList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]WeightedValidator, 0, len(addrs))
	for _, a := range addrs {
		powRaw, _, err := q.s.Read(validatorPowerKey(e, a))
		if err != nil {
			return nil, err
		}
		power, err := types.DecodeAmount(powRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, WeightedValidator{Address: a, VotingPower: power})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VotingPower != out[j].VotingPower {
			return out[i].VotingPower > out[j].VotingPower
		}
		return out[i].Address.Raw < out[j].Address.Raw
	})
	return out, nil
}

// GetTotalVotingPower sums epoch's active validators' voting power.
func (q *Queries) GetTotalVotingPower(epoch *types.Epoch) (uint64, error) {
	validators, err := q.GetActiveValidators(epoch)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range validators {
		total += v.VotingPower
	}
	return total, nil
}

// GetBalance returns owner's balance of token, defaulting to 0 when
// no balance record exists (spec §4.F).
func (q *Queries) GetBalance(token, owner types.Address) (uint64, error) {
	raw, _, err := q.s.Read(BalanceKey(token, owner))
	if err != nil {
		return 0, err
	}
	return types.DecodeAmount(raw)
}

// GetValidatorFromAddress returns addr's record at epoch, or
// ErrNotValidatorAddress.
func (q *Queries) GetValidatorFromAddress(addr types.Address, epoch *types.Epoch) (WeightedValidator, error) {
	validators, err := q.GetActiveValidators(epoch)
	if err != nil {
		return WeightedValidator{}, err
	}
	for _, v := range validators {
		if v.Address.Raw == addr.Raw {
			return v, nil
		}
	}
	return WeightedValidator{}, fmt.Errorf("%w: %s", ErrNotValidatorAddress, addr.Raw)
}

// GetValidatorFromProtocolPK finds the validator whose protocol public
// key equals pk at epoch, or ErrNotValidatorKey.
func (q *Queries) GetValidatorFromProtocolPK(pk []byte, epoch *types.Epoch) (WeightedValidator, error) {
	e := q.resolveEpoch(epoch)
	validators, err := q.GetActiveValidators(&e)
	if err != nil {
		return WeightedValidator{}, err
	}
	for _, v := range validators {
		raw, _, err := q.s.Read(validatorProtocolPKKey(e, v.Address))
		if err != nil {
			return WeightedValidator{}, err
		}
		if string(raw) == string(pk) {
			return v, nil
		}
	}
	return WeightedValidator{}, ErrNotValidatorKey
}

// GetValidatorFromTMAddress finds the validator whose tendermint
// address hash equals rawHash at epoch, or ErrNotValidatorKeyHash.
// rawHash must be 20 bytes, else ErrInvalidTMAddress.
func (q *Queries) GetValidatorFromTMAddress(rawHash []byte, epoch *types.Epoch) (WeightedValidator, error) {
	if len(rawHash) != tmAddressLen {
		return WeightedValidator{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidTMAddress, tmAddressLen, len(rawHash))
	}
	e := q.resolveEpoch(epoch)
	validators, err := q.GetActiveValidators(&e)
	if err != nil {
		return WeightedValidator{}, err
	}
	for _, v := range validators {
		raw, _, err := q.s.Read(validatorTMAddressKey(e, v.Address))
		if err != nil {
			return WeightedValidator{}, err
		}
		if string(raw) == string(rawHash) {
			return v, nil
		}
	}
	return WeightedValidator{}, ErrNotValidatorKeyHash
}

// GetActiveEthAddresses joins epoch's active validators with their
// Ethereum hot/cold keys (spec §4.F). A validator missing either key
// is a fatal programmer error, not a recoverable one: every active
// validator is required to have both.
func (q *Queries) GetActiveEthAddresses(epoch *types.Epoch) (*EthAddressIterator, error) {
	e := q.resolveEpoch(epoch)
	validators, err := q.GetActiveValidators(&e)
	if err != nil {
		return nil, err
	}
	entries := make([]EthAddrBookEntry, 0, len(validators))
	for _, v := range validators {
		hotRaw, _, err := q.s.Read(validatorEthHotKey(e, v.Address))
		if err != nil {
			return nil, err
		}
		coldRaw, _, err := q.s.Read(validatorEthColdKey(e, v.Address))
		if err != nil {
			return nil, err
		}
		if hotRaw == nil || coldRaw == nil {
			panic(fmt.Sprintf("validator %s missing ethereum hot/cold address at epoch %d", v.Address.Raw, e))
		}
		entries = append(entries, EthAddrBookEntry{
			Book: EthAddrBook{
				Hot:  types.Address{Kind: types.AddressImplicit, Raw: string(hotRaw)},
				Cold: types.Address{Kind: types.AddressImplicit, Raw: string(coldRaw)},
			},
			Address:     v.Address,
			VotingPower: v.VotingPower,
		})
	}
	return &EthAddressIterator{entries: entries, idx: -1}, nil
}
