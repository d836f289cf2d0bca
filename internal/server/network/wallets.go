package network

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/sethvargo/go-retry"
)

// Wallets live next to the vaults in the same bucket:
//
//	wallets/<address>/wallet.json            key hash and credit spent
//	wallets/<address>/grants/<grant>.json    credit lent to the wallet
//
// A wallet's balance is the sum of its live grants minus what it has spent.
// Uploads paid by a wallet are charged per started MiB.

var (
	_ Client       = (*S3Gateway)(nil)
	_ IndexChecker = (*S3Gateway)(nil)
	_ Wallets      = (*S3Gateway)(nil)
)

const (
	mib            = 1 << 20
	walletKeyBytes = 32
	chargeRetries  = 5
	chargeBackoff  = 20 * time.Millisecond
)

type walletRecord struct {
	Address   string    `json:"address"`
	KeyHash   string    `json:"key_hash"`
	Spent     int64     `json:"spent"`
	CreatedAt time.Time `json:"created_at"`
}

type grantRecord struct {
	GrantID   string     `json:"grant_id,omitempty"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Amount    int64      `json:"amount"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (r grantRecord) live(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

func walletKey(address string) string {
	return path.Join("wallets", address, "wallet.json")
}

func grantPrefix(address string) string {
	return path.Join("wallets", address, "grants") + "/"
}

func grantKey(address, grantID string) string {
	return grantPrefix(address) + grantID + ".json"
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// grantID is the sha256 of the grant's content.
func grantID(r grantRecord) (string, error) {
	r.GrantID = ""
	body, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func isMissing(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// isConflict reports a failed conditional write.
func isConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// NewWallet creates a wallet with a fresh random key and no credit.
func (g *S3Gateway) NewWallet(ctx context.Context) (*Wallet, error) {
	raw := make([]byte, walletKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("wallet key: %w", err)
	}

	w := &Wallet{Address: g.newID(), Key: hex.EncodeToString(raw)}
	if err := g.createWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("new wallet: %w", err)
	}
	return w, nil
}

// GetBalance is the wallet's live lent credit less what it has spent.
func (g *S3Gateway) GetBalance(ctx context.Context, address string) (int64, error) {
	rec, _, err := g.loadWallet(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("load wallet %s: %w", address, err)
	}

	grants, err := g.listGrants(ctx, address)
	if err != nil {
		return 0, err
	}

	now := g.now()
	var lent int64
	for _, r := range grants {
		if r.live(now) {
			lent += r.Amount
		}
	}
	return max(lent-rec.Spent, 0), nil
}

// ShareCredit lends amount from one wallet to another until expiresAt and
// returns the grant id. The lending wallet is registered with its key on
// first use; afterwards the key must match.
func (g *S3Gateway) ShareCredit(ctx context.Context, from Wallet, toAddress string, amount int64, expiresAt time.Time) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("share %d credit: %w", amount, common.ErrorNotAllowed)
	}
	if err := g.authenticate(ctx, from, true); err != nil {
		return "", err
	}
	if _, _, err := g.loadWallet(ctx, toAddress); err != nil {
		return "", fmt.Errorf("recipient %s: %w", toAddress, err)
	}

	r := grantRecord{
		From:      from.Address,
		To:        toAddress,
		Amount:    amount,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: g.now().UTC(),
	}
	id, err := grantID(r)
	if err != nil {
		return "", err
	}
	r.GrantID = id

	if err := g.putGrant(ctx, r); err != nil {
		return "", fmt.Errorf("share credit: %w", err)
	}
	return id, nil
}

// RevokeCredit revokes every grant the from wallet has made to toAddress.
func (g *S3Gateway) RevokeCredit(ctx context.Context, from Wallet, toAddress string) error {
	if err := g.authenticate(ctx, from, true); err != nil {
		return err
	}

	grants, err := g.listGrants(ctx, toAddress)
	if err != nil {
		return err
	}

	now := g.now().UTC()
	for _, r := range grants {
		if r.From != from.Address || r.RevokedAt != nil {
			continue
		}
		r.RevokedAt = &now
		if err := g.putGrant(ctx, r); err != nil {
			return fmt.Errorf("revoke grant %s: %w", r.GrantID, err)
		}
	}
	return nil
}

// ownerOf authenticates the paying wallet and returns the address recorded as
// owner of what it pays for. A nil wallet means the default funding identity.
func (g *S3Gateway) ownerOf(ctx context.Context, w *Wallet) (string, error) {
	if w == nil {
		return "", nil
	}
	if err := g.authenticate(ctx, *w, false); err != nil {
		return "", err
	}
	return w.Address, nil
}

func (g *S3Gateway) uploadCost(size int64) int64 {
	units := max((size+mib-1)/mib, 1)
	return units * g.creditPerMiB
}

// reserve fails with ErrorInsufficientCredit when the wallet cannot pay cost.
func (g *S3Gateway) reserve(ctx context.Context, address string, cost int64) error {
	if cost == 0 {
		return nil
	}
	balance, err := g.GetBalance(ctx, address)
	if err != nil {
		return err
	}
	if balance < cost {
		return fmt.Errorf("wallet %s has %d, upload needs %d: %w", address, balance, cost, common.ErrorInsufficientCredit)
	}
	return nil
}

// charge adds cost to the wallet's spent credit with a conditional write,
// retrying when another writer got there first.
func (g *S3Gateway) charge(ctx context.Context, address string, cost int64) error {
	if cost == 0 {
		return nil
	}

	b := retry.WithMaxRetries(chargeRetries, retry.NewConstant(chargeBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		rec, etag, err := g.loadWallet(ctx, address)
		if err != nil {
			return err
		}
		rec.Spent += cost

		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = g.putConditional(ctx, walletKey(address), body, &s3.PutObjectInput{IfMatch: aws.String(etag)})
		if isConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// authenticate checks w's key against its record. With register set, a
// wallet without a record is created with w's key.
func (g *S3Gateway) authenticate(ctx context.Context, w Wallet, register bool) error {
	if w.Address == "" || w.Key == "" {
		return fmt.Errorf("wallet %q has no key: %w", w.Address, common.ErrorNotAllowed)
	}

	rec, _, err := g.loadWallet(ctx, w.Address)
	if errors.Is(err, common.ErrorNotFound) && register {
		err = g.createWallet(ctx, &w)
		if isConflict(err) {
			return g.authenticate(ctx, w, false)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("load wallet %s: %w", w.Address, err)
	}

	if subtle.ConstantTimeCompare([]byte(rec.KeyHash), []byte(keyHash(w.Key))) != 1 {
		return fmt.Errorf("wallet %s: key mismatch: %w", w.Address, common.ErrorNotAllowed)
	}
	return nil
}

func (g *S3Gateway) createWallet(ctx context.Context, w *Wallet) error {
	rec := walletRecord{Address: w.Address, KeyHash: keyHash(w.Key), CreatedAt: g.now().UTC()}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = g.putConditional(ctx, walletKey(w.Address), body, &s3.PutObjectInput{IfNoneMatch: aws.String("*")})
	return err
}

func (g *S3Gateway) loadWallet(ctx context.Context, address string) (*walletRecord, string, error) {
	body, etag, err := g.get(ctx, walletKey(address))
	if err != nil {
		return nil, "", err
	}
	var rec walletRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, "", fmt.Errorf("decode wallet %s: %w", address, err)
	}
	return &rec, etag, nil
}

func (g *S3Gateway) putGrant(ctx context.Context, r grantRecord) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = g.put(ctx, grantKey(r.To, r.GrantID), body, "application/json", nil)
	return err
}

func (g *S3Gateway) listGrants(ctx context.Context, address string) ([]grantRecord, error) {
	prefix := grantPrefix(address)
	pages := s3.NewListObjectsV2Paginator(g.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})

	var out []grantRecord
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list grants: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			body, _, err := g.get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read grant %s: %w", key, err)
			}
			var r grantRecord
			if err := json.Unmarshal(body, &r); err != nil {
				return nil, fmt.Errorf("decode grant %s: %w", key, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// get reads an object and its ETag. A missing key is common.ErrorNotFound.
func (g *S3Gateway) get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := g.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, "", common.ErrorNotFound
		}
		return nil, "", err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	return body, aws.ToString(out.ETag), nil
}
