package venue

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ---------------------------------------------------------------------------
// four.meme venue boundary: TokenManager ABI, event topics, call encoding
// The contract semantics are opaque to us; this package only encodes calls
// and decodes logs.
// ---------------------------------------------------------------------------

// TokenManager is the four.meme TokenManager2 contract on BNB Smart Chain.
var TokenManager = common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b")

// WBNB is the wrapped BNB token address.
var WBNB = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")

const (
	// ChainID is the BNB Smart Chain network id.
	ChainID = 56

	// BlockTime is the average BSC block interval, used as the poll cadence.
	BlockTime = 3 * time.Second

	// BaseDecimals is the BNB decimal precision; venue tokens use the same.
	BaseDecimals = 18
)

const tokenManagerABI = `[
	{"type":"event","name":"TokenCreated","inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"symbol","type":"string","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenPurchase","inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenSale","inputs":[
		{"name":"seller","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenMigrated","inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"pair","type":"address","indexed":true},
		{"name":"liquidity","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"function","name":"calculateBuyAmount","stateMutability":"view","inputs":[
		{"name":"token","type":"address"},{"name":"amountIn","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"calculateSellAmount","stateMutability":"view","inputs":[
		{"name":"token","type":"address"},{"name":"amountIn","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTokenPrice","stateMutability":"view","inputs":[
		{"name":"token","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokens","stateMutability":"view","inputs":[
		{"name":"token","type":"address"}],
		"outputs":[
			{"name":"creator","type":"address"},
			{"name":"totalSupply","type":"uint256"},
			{"name":"reserveBNB","type":"uint256"},
			{"name":"reserveToken","type":"uint256"},
			{"name":"createdAt","type":"uint256"},
			{"name":"isMigrated","type":"bool"}]},
	{"type":"function","name":"buyToken","stateMutability":"payable","inputs":[
		{"name":"token","type":"address"},{"name":"minAmountOut","type":"uint256"}],
		"outputs":[]},
	{"type":"function","name":"sellToken","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},{"name":"amountIn","type":"uint256"},
		{"name":"minAmountOut","type":"uint256"}],
		"outputs":[]}
]`

const erc20ABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	managerABI = mustParseABI(tokenManagerABI)
	tokenABI   = mustParseABI(erc20ABI)

	// Event topic hashes, used as log filters and dispatch keys.
	TopicTokenCreated  = managerABI.Events["TokenCreated"].ID
	TopicTokenPurchase = managerABI.Events["TokenPurchase"].ID
	TopicTokenSale     = managerABI.Events["TokenSale"].ID
	TopicTokenMigrated = managerABI.Events["TokenMigrated"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("venue: invalid ABI: " + err.Error())
	}
	return parsed
}

// ManagerABI returns the parsed TokenManager ABI.
func ManagerABI() abi.ABI { return managerABI }

// ERC20ABI returns the parsed ERC-20 fragment.
func ERC20ABI() abi.ABI { return tokenABI }

// AllTopics returns the four venue event topics in declaration order.
func AllTopics() []common.Hash {
	return []common.Hash{TopicTokenCreated, TopicTokenPurchase, TopicTokenSale, TopicTokenMigrated}
}
