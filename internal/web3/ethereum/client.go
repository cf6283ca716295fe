package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ZyndAI-Connect/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
}

// receiptBackend mirrors the subset of ethclient used for confirmations.
type receiptBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client reads transaction receipts from an EVM chain.
type Client struct {
	name      string
	chainID   int64
	rpcClient *gethrpc.Client
	backend   receiptBackend
	mu        sync.Mutex
	verified  bool
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return &Client{
		name:      cfg.Name,
		chainID:   cfg.ChainID,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// newClientWithBackend wraps an existing backend. Used by tests.
func newClientWithBackend(name string, chainID int64, backend receiptBackend) *Client {
	return &Client{name: name, chainID: chainID, backend: backend}
}

// Confirm looks up the receipt for txHash. The first call also checks that
// the endpoint serves the expected chain id.
func (c *Client) Confirm(ctx context.Context, txHash common.Hash) (web3.Confirmation, error) {
	if c == nil || c.backend == nil {
		return web3.Confirmation{}, errors.New("未初始化的以太坊客户端")
	}
	if err := c.verifyChain(ctx); err != nil {
		return web3.Confirmation{}, err
	}
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return web3.Confirmation{}, fmt.Errorf("查询交易回执失败: %w", err)
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return web3.Confirmation{
		TxHash:      txHash,
		BlockNumber: block,
		Succeeded:   receipt.Status == coretypes.ReceiptStatusSuccessful,
	}, nil
}

func (c *Client) verifyChain(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verified || c.chainID == 0 {
		return nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if id.Int64() != c.chainID {
		return fmt.Errorf("链 %s 的节点返回 chain id %d，期望 %d", c.name, id.Int64(), c.chainID)
	}
	c.verified = true
	return nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

var _ web3.ReceiptReader = (*Client)(nil)
