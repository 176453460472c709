package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"feedKeeper/internal/model"
)

const defaultPollInterval = 12 * time.Second

// EventFilter selects the logs a caller is interested in.
type EventFilter struct {
	Addresses []common.Address
	Topic0    []common.Hash
}

func (f EventFilter) query() ethereum.FilterQuery {
	query := ethereum.FilterQuery{Addresses: f.Addresses}
	if len(f.Topic0) > 0 {
		query.Topics = [][]common.Hash{f.Topic0}
	}
	return query
}

// Option customizes a Client.
type Option func(*Client)

// WithLogsURL routes log queries to a separate endpoint.
func WithLogsURL(url string) Option {
	return func(c *Client) { c.logsURL = url }
}

// WithRateLimit caps outgoing RPC calls per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithPollInterval sets the polling cadence used when the endpoint has no subscriptions.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	logsURL    string
	logsRPC    *rpc.Client
	logsClient *ethclient.Client

	limiter      *rate.Limiter
	pollInterval time.Duration
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logsClient = c.ethClient
	if c.logsURL != "" && c.logsURL != rpcURL {
		logsRPC, err := rpc.DialContext(ctx, c.logsURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("dial logs rpc: %w", err)
		}
		c.logsRPC = logsRPC
		c.logsClient = ethclient.NewClient(logsRPC)
	}

	return c, nil
}

// TxChannel confirms transactions through bind.WaitMined against a Client.
var _ bind.DeployBackend = (*Client)(nil)

// Close closes the underlying RPC clients.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	if c.logsRPC != nil {
		c.logsRPC.Close()
	}
}

// RPC exposes the raw RPC client for methods ethclient does not wrap.
func (c *Client) RPC() *rpc.Client {
	return c.rpcClient
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.HeaderByNumber(ctx, number)
}

// LatestBlock returns the head of the chain as a BlockRef.
func (c *Client) LatestBlock(ctx context.Context) (model.BlockRef, error) {
	header, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return model.BlockRef{}, err
	}
	return model.BlockRefFromHeader(header), nil
}

// QueryEvents returns logs in the inclusive range matching the filter.
func (c *Client) QueryEvents(ctx context.Context, filter EventFilter, fromBlock, toBlock uint64) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := filter.query()
	query.FromBlock = new(big.Int).SetUint64(fromBlock)
	query.ToBlock = new(big.Int).SetUint64(toBlock)
	return c.logsClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// PendingNonceAt returns the next nonce for the account including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ethClient.PendingNonceAt(ctx, account)
}

// SendTransaction broadcasts a signed transaction through the public mempool.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.ethClient.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// CodeAt returns the contract code at the given account. It completes bind.DeployBackend.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.CodeAt(ctx, account, blockNumber)
}
