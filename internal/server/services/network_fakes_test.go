package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/server/network"
)

type uploadCall struct {
	req  network.UploadRequest
	body []byte
}

type shareCall struct {
	from      network.Wallet
	to        string
	amount    int64
	expiresAt time.Time
}

// fakeNetwork records writes and can fail selected operations.
type fakeNetwork struct {
	mu         sync.Mutex
	n          int
	vaults     []string
	containers []network.ContainerRequest
	uploads    []uploadCall

	createVaultErr     error
	createContainerErr func(req network.ContainerRequest) error
	uploadErr          error

	balances  map[string]int64
	shares    []shareCall
	revokes   []string
	walletErr error
	shareErr  error
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{balances: map[string]int64{}}
}

func (f *fakeNetwork) id(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *fakeNetwork) CreateVault(ctx context.Context, password string) (*network.VaultInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createVaultErr != nil {
		return nil, f.createVaultErr
	}
	info := &network.VaultInfo{VaultID: f.id("nv"), RootContainerID: f.id("root")}
	f.vaults = append(f.vaults, info.VaultID)
	return info, nil
}

func (f *fakeNetwork) CreateContainer(ctx context.Context, req network.ContainerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createContainerErr != nil {
		if err := f.createContainerErr(req); err != nil {
			return "", err
		}
	}
	f.containers = append(f.containers, req)
	return f.id("c"), nil
}

func (f *fakeNetwork) UploadFile(ctx context.Context, req network.UploadRequest) (*network.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, uploadCall{req: req, body: b})
	return &network.UploadResult{EntityID: f.id("e"), TransactionID: f.id("tx")}, nil
}

func (f *fakeNetwork) NewWallet(ctx context.Context) (*network.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	return &network.Wallet{Address: f.id("addr"), Key: f.id("key")}, nil
}

func (f *fakeNetwork) GetBalance(ctx context.Context, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}

func (f *fakeNetwork) ShareCredit(ctx context.Context, from network.Wallet, to string, amount int64, expiresAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shareErr != nil {
		return "", f.shareErr
	}
	f.shares = append(f.shares, shareCall{from: from, to: to, amount: amount, expiresAt: expiresAt})
	f.balances[to] += amount
	return f.id("g"), nil
}

func (f *fakeNetwork) RevokeCredit(ctx context.Context, from network.Wallet, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, to)
	f.balances[to] = 0
	return nil
}

func (f *fakeNetwork) containerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

type countingSettler struct {
	mu   sync.Mutex
	refs []EntityRef
	err  error
}

func (c *countingSettler) Settle(ctx context.Context, ref EntityRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
	return c.err
}

func (c *countingSettler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

var errNetwork = errors.New("network unavailable")

func testSealer() *cryptox.Sealer {
	s, err := cryptox.NewSealer(make([]byte, cryptox.KeySize))
	if err != nil {
		panic(err)
	}
	return s
}
