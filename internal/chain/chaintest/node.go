// Package chaintest provides an in-memory stand-in for a JSON-RPC node serving
// the miner, staking, pool, sale and ERC-20 contracts. It implements both
// chain.BatchCaller and chain.EthClient so every layer can be tested without
// network access.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
)

// ChainID is the chain id the fake node reports by default.
const ChainID = 56

// Contracts is a fixed set of contract addresses used by tests.
var Contracts = config.Contracts{
	Sale:        common.HexToAddress("0x00000000000000000000000000000000000005a1"),
	Miner:       common.HexToAddress("0x0000000000000000000000000000000000000111"),
	Staking:     common.HexToAddress("0x0000000000000000000000000000000000000222"),
	Pool:        common.HexToAddress("0x0000000000000000000000000000000000000333"),
	RewardToken: common.HexToAddress("0x0000000000000000000000000000000000000444"),
	Stablecoin:  common.HexToAddress("0x0000000000000000000000000000000000000555"),
}

// ErrReverted is the per-call error returned for reads that revert.
var ErrReverted = errors.New("execution reverted")

// Stake mirrors the staking contract's stakes(tokenId) record.
type Stake struct {
	Owner         common.Address
	StartTime     uint64
	LastClaimTime uint64
	UnlockTime    uint64
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// Node is a fake node. All fields may be set directly before use; use the
// setter methods once the node is shared with running goroutines.
type Node struct {
	mu sync.Mutex

	Owned       map[common.Address][]uint64
	StakedOf    map[common.Address][]uint64
	Tiers       map[uint64]uint8
	Stakes      map[uint64]Stake
	Pending     map[uint64]*big.Int
	Claimed     map[uint64]*big.Int
	Balances    map[common.Address]map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
	approvals   map[[2]common.Address]bool
	SellEnabled bool
	FeeBps      *big.Int
	Price       *big.Int
	SalePrices  map[uint8]*big.Int

	// FailMethods makes every read of the named method fail.
	FailMethods map[string]bool
	// TransportErr fails whole batches.
	TransportErr error

	Batches  int
	Calls    int
	Nonce    uint64
	GasPrice *big.Int
	SendErr  error
	Sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt

	// OnSend, when set, runs for every accepted transaction with the node
	// locked, so it must touch fields directly. Returning a receipt mines it
	// immediately; returning nil leaves it pending until Mine.
	OnSend func(n *Node, tx *types.Transaction, method string, args []any) *types.Receipt
}

// NewNode returns an empty node with the pool enabled.
func NewNode() *Node {
	return &Node{
		Owned:       make(map[common.Address][]uint64),
		StakedOf:    make(map[common.Address][]uint64),
		Tiers:       make(map[uint64]uint8),
		Stakes:      make(map[uint64]Stake),
		Pending:     make(map[uint64]*big.Int),
		Claimed:     make(map[uint64]*big.Int),
		Balances:    make(map[common.Address]map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		approvals:   make(map[[2]common.Address]bool),
		SellEnabled: true,
		FeeBps:      big.NewInt(0),
		Price:       big.NewInt(1),
		SalePrices:  make(map[uint8]*big.Int),
		FailMethods: make(map[string]bool),
		GasPrice:    big.NewInt(1_000_000_000),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

// Lock gives tests exclusive access to the node's fields.
func (n *Node) Lock() { n.mu.Lock() }

// Unlock releases Lock.
func (n *Node) Unlock() { n.mu.Unlock() }

// SetBalance sets holder's balance of token.
func (n *Node) SetBalance(token, holder common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Balances[token] == nil {
		n.Balances[token] = make(map[common.Address]*big.Int)
	}
	n.Balances[token][holder] = amount
}

// SetAllowance sets owner's allowance of token to spender.
func (n *Node) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allowances[allowanceKey{token, owner, spender}] = amount
}

// SetApprovalForAll sets an ERC-721 operator approval.
func (n *Node) SetApprovalForAll(owner, operator common.Address, approved bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals[[2]common.Address{owner, operator}] = approved
}

// SetPending sets a token's pending reward.
func (n *Node) SetPending(tokenID uint64, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Pending[tokenID] = amount
}

// AddStake registers a staked token owned by owner.
func (n *Node) AddStake(tokenID uint64, tier uint8, owner common.Address, s Stake) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s.Owner = owner
	n.Tiers[tokenID] = tier
	n.Stakes[tokenID] = s
	n.StakedOf[owner] = append(n.StakedOf[owner], tokenID)
}

// SentCount returns the number of accepted transactions.
func (n *Node) SentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Sent)
}

// BatchCount returns the number of batches received.
func (n *Node) BatchCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Batches
}

// Mine stores a receipt for hash so WaitForReceipt returns.
func (n *Node) Mine(hash common.Hash, status uint64, logs ...*types.Log) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[hash] = Receipt(hash, status, logs...)
}

// Receipt builds a receipt for hash.
func Receipt(hash common.Hash, status uint64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(1),
		GasUsed:     21_000,
		Logs:        logs,
	}
}

// ClaimedLog builds a Claimed(user, tokenId, amount) log emitted by staking.
func ClaimedLog(user common.Address, tokenID uint64, amount *big.Int) *types.Log {
	event := chain.StakingABI.Events[chain.EventClaimed]
	data, err := event.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: Contracts.Staking,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(user.Bytes()),
			common.BigToHash(new(big.Int).SetUint64(tokenID)),
		},
		Data: data,
	}
}

// BatchCallContext implements chain.BatchCaller.
func (n *Node) BatchCallContext(_ context.Context, elems []rpc.BatchElem) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Batches++
	if n.TransportErr != nil {
		return n.TransportErr
	}

	for i := range elems {
		n.Calls++
		args, ok := elems[i].Args[0].(chain.CallArgs)
		if !ok || elems[i].Method != "eth_call" {
			elems[i].Error = fmt.Errorf("unsupported request %s", elems[i].Method)
			continue
		}
		out, err := n.call(common.HexToAddress(args.To), args.Data)
		if err != nil {
			elems[i].Error = err
			continue
		}
		*(elems[i].Result.(*hexutil.Bytes)) = out
	}
	return nil
}

func (n *Node) contractABI(to common.Address) (*abi.ABI, error) {
	switch to {
	case Contracts.Miner:
		return chain.MinerABI, nil
	case Contracts.Staking:
		return chain.StakingABI, nil
	case Contracts.Pool:
		return chain.PoolABI, nil
	case Contracts.Sale:
		return chain.SaleABI, nil
	case Contracts.RewardToken, Contracts.Stablecoin:
		return chain.ERC20ABI, nil
	}
	return nil, fmt.Errorf("no contract at %s", to.Hex())
}

func decode(contractABI *abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short call data")
	}
	m, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

func tokenArg(args []any) uint64 {
	return args[0].(*big.Int).Uint64()
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func toBigs(ids []uint64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).SetUint64(id)
	}
	return out
}

func (n *Node) call(to common.Address, data []byte) ([]byte, error) {
	contractABI, err := n.contractABI(to)
	if err != nil {
		return nil, err
	}
	m, args, err := decode(contractABI, data)
	if err != nil {
		return nil, err
	}
	if n.FailMethods[m.Name] {
		return nil, ErrReverted
	}

	var out []any
	switch m.Name {
	case chain.MethodTokensOfOwner:
		out = []any{toBigs(n.Owned[args[0].(common.Address)])}
	case chain.MethodStakedTokensOf:
		out = []any{toBigs(n.StakedOf[args[0].(common.Address)])}
	case chain.MethodTierOf:
		tier, ok := n.Tiers[tokenArg(args)]
		if !ok {
			return nil, ErrReverted
		}
		out = []any{tier}
	case chain.MethodIsApprovedForAll:
		out = []any{n.approvals[[2]common.Address{args[0].(common.Address), args[1].(common.Address)}]}
	case chain.MethodStakes:
		s := n.Stakes[tokenArg(args)]
		out = []any{
			s.Owner,
			new(big.Int).SetUint64(s.StartTime),
			new(big.Int).SetUint64(s.LastClaimTime),
			new(big.Int).SetUint64(s.UnlockTime),
		}
	case chain.MethodPendingReward:
		out = []any{bigOrZero(n.Pending[tokenArg(args)])}
	case chain.MethodTotalClaimed:
		out = []any{bigOrZero(n.Claimed[tokenArg(args)])}
	case chain.MethodSellEnabled:
		out = []any{n.SellEnabled}
	case chain.MethodFeeBps:
		out = []any{bigOrZero(n.FeeBps)}
	case chain.MethodPrice:
		out = []any{bigOrZero(n.Price)}
	case chain.MethodPriceOf:
		price, ok := n.SalePrices[args[0].(uint8)]
		if !ok {
			return nil, ErrReverted
		}
		out = []any{price}
	case chain.MethodBalanceOf:
		out = []any{bigOrZero(n.Balances[to][args[0].(common.Address)])}
	case chain.MethodAllowance:
		out = []any{bigOrZero(n.allowances[allowanceKey{to, args[0].(common.Address), args[1].(common.Address)}])}
	default:
		return nil, fmt.Errorf("method %s is not readable", m.Name)
	}

	return m.Outputs.Pack(out...)
}

// ChainID implements chain.EthClient.
func (n *Node) ChainID(_ context.Context) (*big.Int, error) {
	return big.NewInt(ChainID), nil
}

// PendingNonceAt implements chain.EthClient.
func (n *Node) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Nonce, nil
}

// SuggestGasPrice implements chain.EthClient.
func (n *Node) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.GasPrice), nil
}

// SendTransaction implements chain.EthClient.
func (n *Node) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.SendErr != nil {
		return n.SendErr
	}
	n.Sent = append(n.Sent, tx)
	n.Nonce++

	if n.OnSend == nil {
		return nil
	}
	var method string
	var args []any
	if tx.To() != nil {
		if contractABI, err := n.contractABI(*tx.To()); err == nil {
			if m, a, err := decode(contractABI, tx.Data()); err == nil {
				method, args = m.Name, a
			}
		}
	}
	if receipt := n.OnSend(n, tx, method, args); receipt != nil {
		n.receipts[tx.Hash()] = receipt
	}
	return nil
}

// TransactionReceipt implements chain.EthClient.
func (n *Node) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// ApplyLocked executes the state change of a successful transaction and
// returns the logs it emits. It must run with the node locked, typically
// from OnSend.
func (n *Node) ApplyLocked(tx *types.Transaction, method string, args []any) []*types.Log {
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(ChainID)), tx)
	if err != nil || tx.To() == nil {
		return nil
	}
	to := *tx.To()

	switch method {
	case chain.MethodApprove:
		n.allowances[allowanceKey{to, from, args[0].(common.Address)}] = args[1].(*big.Int)
	case chain.MethodSetApprovalForAll:
		n.approvals[[2]common.Address{from, args[0].(common.Address)}] = args[1].(bool)
	case chain.MethodStake:
		id := tokenArg(args)
		n.Stakes[id] = Stake{Owner: from}
		n.Owned[from] = removeID(n.Owned[from], id)
		n.StakedOf[from] = append(n.StakedOf[from], id)
	case chain.MethodUnstake:
		id := tokenArg(args)
		delete(n.Stakes, id)
		n.StakedOf[from] = removeID(n.StakedOf[from], id)
		n.Owned[from] = append(n.Owned[from], id)
	case chain.MethodClaim:
		id := tokenArg(args)
		amount := bigOrZero(n.Pending[id])
		n.Claimed[id] = new(big.Int).Add(bigOrZero(n.Claimed[id]), amount)
		n.Pending[id] = big.NewInt(0)
		return []*types.Log{ClaimedLog(from, id, amount)}
	case chain.MethodSell:
		amount := args[0].(*big.Int)
		if n.Balances[Contracts.RewardToken] == nil {
			n.Balances[Contracts.RewardToken] = make(map[common.Address]*big.Int)
		}
		n.Balances[Contracts.RewardToken][from] = new(big.Int).Sub(bigOrZero(n.Balances[Contracts.RewardToken][from]), amount)
		key := allowanceKey{Contracts.RewardToken, from, Contracts.Pool}
		n.allowances[key] = new(big.Int).Sub(bigOrZero(n.allowances[key]), amount)
	}
	return nil
}

// AutoMine returns an OnSend hook that applies every transaction and mines it
// successfully. With emitEvents false the receipt carries no logs.
func AutoMine(emitEvents bool) func(n *Node, tx *types.Transaction, method string, args []any) *types.Receipt {
	return func(n *Node, tx *types.Transaction, method string, args []any) *types.Receipt {
		logs := n.ApplyLocked(tx, method, args)
		if !emitEvents {
			logs = nil
		}
		return Receipt(tx.Hash(), types.ReceiptStatusSuccessful, logs...)
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
