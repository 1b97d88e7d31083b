package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method names used across the client.
const (
	MethodTokensOfOwner     = "tokensOfOwner"
	MethodTierOf            = "tierOf"
	MethodIsApprovedForAll  = "isApprovedForAll"
	MethodSetApprovalForAll = "setApprovalForAll"

	MethodStake          = "stake"
	MethodUnstake        = "unstake"
	MethodClaim          = "claim"
	MethodStakes         = "stakes"
	MethodPendingReward  = "pendingReward"
	MethodTotalClaimed   = "totalClaimed"
	MethodStakedTokensOf = "stakedTokensOf"

	MethodSell        = "sell"
	MethodSellEnabled = "sellEnabled"
	MethodFeeBps      = "feeBps"
	MethodPrice       = "price"

	MethodBalanceOf = "balanceOf"
	MethodAllowance = "allowance"
	MethodApprove   = "approve"

	MethodBuy     = "buy"
	MethodPriceOf = "priceOf"

	EventClaimed = "Claimed"
)

const minerABIJSON = `[
	{"type":"function","name":"tokensOfOwner","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"tierOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

const stakingABIJSON = `[
	{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"stakes","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
		{"name":"owner","type":"address"},
		{"name":"startTime","type":"uint256"},
		{"name":"lastClaimTime","type":"uint256"},
		{"name":"unlockTime","type":"uint256"}
	]},
	{"type":"function","name":"pendingReward","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalClaimed","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"stakedTokensOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"event","name":"Claimed","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

const poolABIJSON = `[
	{"type":"function","name":"sell","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"sellEnabled","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"feeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const saleABIJSON = `[
	{"type":"function","name":"buy","stateMutability":"nonpayable","inputs":[{"name":"tier","type":"uint8"},{"name":"referrer","type":"address"}],"outputs":[]},
	{"type":"function","name":"priceOf","stateMutability":"view","inputs":[{"name":"tier","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Parsed contract ABIs.
var (
	MinerABI   = mustParseABI("miner", minerABIJSON)
	StakingABI = mustParseABI("staking", stakingABIJSON)
	PoolABI    = mustParseABI("pool", poolABIJSON)
	ERC20ABI   = mustParseABI("erc20", erc20ABIJSON)
	SaleABI    = mustParseABI("sale", saleABIJSON)
)

func mustParseABI(name, raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s ABI: %v", name, err))
	}
	return &parsed
}
