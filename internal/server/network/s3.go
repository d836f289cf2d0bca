package network

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/google/uuid"
)

// objectAPI is the subset of *s3.Client the gateway uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type S3Config struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
	// CreditPerMiB is charged to a paying wallet per started MiB uploaded.
	CreditPerMiB int64
}

// S3Gateway stores vaults as prefixes in one bucket:
//
//	vaults/<vault>/vault.json                   vault manifest
//	vaults/<vault>/entities/<id>/entity.json    container or file manifest
//	vaults/<vault>/entities/<id>/data           file contents
//
// Private vault manifests and contents are sealed with a key derived from the
// vault password. Wallets and their grants share the bucket; see wallets.go.
type S3Gateway struct {
	api          objectAPI
	bucket       string
	creditPerMiB int64
	newID        func() string
	now          func() time.Time
}

func NewS3Gateway(ctx context.Context, c S3Config) (*S3Gateway, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.User, c.Password, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(c.BaseEndpoint)
		o.UsePathStyle = true
	})

	g := newS3Gateway(api, c.Bucket)
	g.creditPerMiB = c.CreditPerMiB
	return g, nil
}

func newS3Gateway(api objectAPI, bucket string) *S3Gateway {
	return &S3Gateway{api: api, bucket: bucket, newID: uuid.NewString, now: time.Now}
}

type vaultManifest struct {
	VaultID         string    `json:"vault_id"`
	Privacy         string    `json:"privacy"`
	RootContainerID string    `json:"root_container_id"`
	CreatedAt       time.Time `json:"created_at"`
}

type entityManifest struct {
	EntityID    string    `json:"entity_id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parent_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func vaultKey(vaultID string) string {
	return path.Join("vaults", vaultID, "vault.json")
}

func entityKey(vaultID, entityID, name string) string {
	return path.Join("vaults", vaultID, "entities", entityID, name)
}

func (g *S3Gateway) CreateVault(ctx context.Context, password string) (*VaultInfo, error) {
	info := &VaultInfo{VaultID: g.newID(), RootContainerID: g.newID()}

	privacy := "public"
	if password != "" {
		privacy = "private"
	}

	m := vaultManifest{VaultID: info.VaultID, Privacy: privacy, RootContainerID: info.RootContainerID, CreatedAt: g.now()}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if _, err := g.put(ctx, vaultKey(info.VaultID), body, "application/json", nil); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	root := entityManifest{EntityID: info.RootContainerID, Kind: "folder", Name: "root", CreatedAt: g.now()}
	if err := g.putManifest(ctx, info.VaultID, root, password); err != nil {
		return nil, fmt.Errorf("create root container: %w", err)
	}

	return info, nil
}

func (g *S3Gateway) CreateContainer(ctx context.Context, req ContainerRequest) (string, error) {
	owner, err := g.ownerOf(ctx, req.Wallet)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	m := entityManifest{
		EntityID:  g.newID(),
		Kind:      "folder",
		Name:      req.Name,
		ParentID:  req.ParentID,
		Owner:     owner,
		CreatedAt: g.now(),
	}
	if err := g.putManifest(ctx, req.VaultID, m, req.Password); err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return m.EntityID, nil
}

// UploadFile stores the file and its manifest. A paying wallet must hold
// enough credit for the upload and is charged once both objects are written.
func (g *S3Gateway) UploadFile(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	owner, err := g.ownerOf(ctx, req.Wallet)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	var cost int64
	if owner != "" {
		cost = g.uploadCost(int64(len(data)))
		if err := g.reserve(ctx, owner, cost); err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
	}

	entityID := g.newID()
	res := &UploadResult{EntityID: entityID}

	if req.Password != "" {
		data, err = cryptox.SealBytes(payloadKey(req.Password, req.VaultID), data)
		if err != nil {
			return nil, err
		}
		if res.AccessKey, err = cryptox.DeriveShareKey(req.Password, entityID); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(data)
	res.TransactionID = hex.EncodeToString(sum[:])

	meta := map[string]string{"filename": req.Filename, "parent": req.ContainerID}
	if _, err := g.put(ctx, entityKey(req.VaultID, entityID, "data"), data, req.ContentType, meta); err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	m := entityManifest{
		EntityID:    entityID,
		Kind:        "file",
		Name:        req.Filename,
		ParentID:    req.ContainerID,
		ContentType: req.ContentType,
		Size:        req.Size,
		Owner:       owner,
		CreatedAt:   g.now(),
	}
	if err := g.putManifest(ctx, req.VaultID, m, req.Password); err != nil {
		return nil, fmt.Errorf("upload file manifest: %w", err)
	}

	if owner != "" {
		if err := g.charge(ctx, owner, cost); err != nil {
			return nil, fmt.Errorf("charge wallet %s: %w", owner, err)
		}
	}

	return res, nil
}

// IsIndexed reports whether the entity manifest is readable.
func (g *S3Gateway) IsIndexed(ctx context.Context, vaultID, entityID string) (bool, error) {
	_, err := g.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(entityKey(vaultID, entityID, "entity.json")),
	})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *S3Gateway) putManifest(ctx context.Context, vaultID string, m entityManifest, password string) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if password != "" {
		if body, err = cryptox.SealBytes(payloadKey(password, vaultID), body); err != nil {
			return err
		}
		contentType = "application/octet-stream"
	}
	_, err = g.put(ctx, entityKey(vaultID, m.EntityID, "entity.json"), body, contentType, nil)
	return err
}

func (g *S3Gateway) putInput(key string, body []byte, contentType string, meta map[string]string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		Metadata:      meta,
	}
}

func (g *S3Gateway) put(ctx context.Context, key string, body []byte, contentType string, meta map[string]string) (*s3.PutObjectOutput, error) {
	return g.api.PutObject(ctx, g.putInput(key, body, contentType, meta))
}

// putConditional writes a JSON object under the IfMatch or IfNoneMatch
// condition carried by cond.
func (g *S3Gateway) putConditional(ctx context.Context, key string, body []byte, cond *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	in := g.putInput(key, body, "application/json", nil)
	in.IfMatch = cond.IfMatch
	in.IfNoneMatch = cond.IfNoneMatch
	return g.api.PutObject(ctx, in)
}

func payloadKey(password, vaultID string) []byte {
	return cryptox.DeriveMasterKey([]byte(password), []byte(vaultID))
}
