package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/mailvault/internal/flagx"
	"github.com/dmitrijs2005/mailvault/internal/timex"
)

// JsonConfig mirrors Config for JSON decoding. Durations use timex.Duration so
// they can be written as "30s" or as integer nanoseconds.
//
// Keys absent from the file keep whatever value Config already held.
type JsonConfig struct {
	DatabaseDSN string `json:"database_dsn"`
	LogBackend  string `json:"log_backend"`
	LogLevel    string `json:"log_level"`

	IMAPHost        string          `json:"imap_host"`
	IMAPPort        int             `json:"imap_port"`
	IMAPUsername    string          `json:"imap_username"`
	IMAPPassword    string          `json:"imap_password"`
	IMAPTLS         string          `json:"imap_tls"`
	Mailbox         string          `json:"mailbox"`
	PollInterval    timex.Duration  `json:"poll_interval"`
	LookbackDays    int             `json:"lookback_days"`
	ReconnectDelays timex.Durations `json:"reconnect_delays"`

	QueueConcurrency  int            `json:"queue_concurrency"`
	QueueMaxAttempts  int            `json:"queue_max_attempts"`
	QueueBaseDelay    timex.Duration `json:"queue_base_delay"`
	QueuePollInterval timex.Duration `json:"queue_poll_interval"`
	QueueStaleAfter   timex.Duration `json:"queue_stale_after"`

	SettlePolicy       string         `json:"settle_policy"`
	SettleDelay        timex.Duration `json:"settle_delay"`
	SettlePollInterval timex.Duration `json:"settle_poll_interval"`
	SettleTimeout      timex.Duration `json:"settle_timeout"`

	MaxArchiveBytes int64  `json:"max_archive_bytes"`
	TempDir         string `json:"temp_dir"`

	AllowList         []string `json:"allow_list"`
	DefaultPlan       string   `json:"default_plan"`
	FreeItemsPerMonth int      `json:"free_items_per_month"`
	CostPerItemCents  int64    `json:"cost_per_item_cents"`
	OverQuotaPolicy   string   `json:"over_quota_policy"`
	HardCapPerMonth   int      `json:"hard_cap_per_month"`

	MasterKeyHex     string `json:"master_key_hex"`
	MasterPassphrase string `json:"master_passphrase"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	MultiWallet         bool           `json:"multi_wallet"`
	MasterWalletAddress string         `json:"master_wallet_address"`
	MasterWalletKey     string         `json:"master_wallet_key"`
	CreditPerItem       int64          `json:"credit_per_item"`
	CreditPerMiB        int64          `json:"credit_per_mib"`
	GrantExpiry         timex.Duration `json:"grant_expiry"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`
	SMTPTLS      string `json:"smtp_tls"`

	SecretsSource       string `json:"secrets_source"`
	DedupLeafContainers bool   `json:"dedup_leaf_containers"`
	LockStrategy        string `json:"lock_strategy"`
}

func newJsonConfig(c *Config) *JsonConfig {
	return &JsonConfig{
		DatabaseDSN: c.DatabaseDSN,
		LogBackend:  c.LogBackend,
		LogLevel:    c.LogLevel,

		IMAPHost:        c.IMAPHost,
		IMAPPort:        c.IMAPPort,
		IMAPUsername:    c.IMAPUsername,
		IMAPPassword:    c.IMAPPassword,
		IMAPTLS:         c.IMAPTLS,
		Mailbox:         c.Mailbox,
		PollInterval:    timex.Duration{Duration: c.PollInterval},
		LookbackDays:    c.LookbackDays,
		ReconnectDelays: timex.FromStd(c.ReconnectDelays),

		QueueConcurrency:  c.QueueConcurrency,
		QueueMaxAttempts:  c.QueueMaxAttempts,
		QueueBaseDelay:    timex.Duration{Duration: c.QueueBaseDelay},
		QueuePollInterval: timex.Duration{Duration: c.QueuePollInterval},
		QueueStaleAfter:   timex.Duration{Duration: c.QueueStaleAfter},

		SettlePolicy:       c.SettlePolicy,
		SettleDelay:        timex.Duration{Duration: c.SettleDelay},
		SettlePollInterval: timex.Duration{Duration: c.SettlePollInterval},
		SettleTimeout:      timex.Duration{Duration: c.SettleTimeout},

		MaxArchiveBytes: c.MaxArchiveBytes,
		TempDir:         c.TempDir,

		AllowList:         c.AllowList,
		DefaultPlan:       c.DefaultPlan,
		FreeItemsPerMonth: c.FreeItemsPerMonth,
		CostPerItemCents:  c.CostPerItemCents,
		OverQuotaPolicy:   c.OverQuotaPolicy,
		HardCapPerMonth:   c.HardCapPerMonth,

		MasterKeyHex:     c.MasterKeyHex,
		MasterPassphrase: c.MasterPassphrase,

		S3RootUser:     c.S3RootUser,
		S3RootPassword: c.S3RootPassword,
		S3Bucket:       c.S3Bucket,
		S3Region:       c.S3Region,
		S3BaseEndpoint: c.S3BaseEndpoint,

		MultiWallet:         c.MultiWallet,
		MasterWalletAddress: c.MasterWalletAddress,
		MasterWalletKey:     c.MasterWalletKey,
		CreditPerItem:       c.CreditPerItem,
		CreditPerMiB:        c.CreditPerMiB,
		GrantExpiry:         timex.Duration{Duration: c.GrantExpiry},

		SMTPHost:     c.SMTPHost,
		SMTPPort:     c.SMTPPort,
		SMTPUsername: c.SMTPUsername,
		SMTPPassword: c.SMTPPassword,
		SMTPFrom:     c.SMTPFrom,
		SMTPTLS:      c.SMTPTLS,

		SecretsSource:       c.SecretsSource,
		DedupLeafContainers: c.DedupLeafContainers,
		LockStrategy:        c.LockStrategy,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.DatabaseDSN = j.DatabaseDSN
	c.LogBackend = j.LogBackend
	c.LogLevel = j.LogLevel

	c.IMAPHost = j.IMAPHost
	c.IMAPPort = j.IMAPPort
	c.IMAPUsername = j.IMAPUsername
	c.IMAPPassword = j.IMAPPassword
	c.IMAPTLS = j.IMAPTLS
	c.Mailbox = j.Mailbox
	c.PollInterval = j.PollInterval.Duration
	c.LookbackDays = j.LookbackDays
	c.ReconnectDelays = j.ReconnectDelays.Std()

	c.QueueConcurrency = j.QueueConcurrency
	c.QueueMaxAttempts = j.QueueMaxAttempts
	c.QueueBaseDelay = j.QueueBaseDelay.Duration
	c.QueuePollInterval = j.QueuePollInterval.Duration
	c.QueueStaleAfter = j.QueueStaleAfter.Duration

	c.SettlePolicy = j.SettlePolicy
	c.SettleDelay = j.SettleDelay.Duration
	c.SettlePollInterval = j.SettlePollInterval.Duration
	c.SettleTimeout = j.SettleTimeout.Duration

	c.MaxArchiveBytes = j.MaxArchiveBytes
	c.TempDir = j.TempDir

	c.AllowList = j.AllowList
	c.DefaultPlan = j.DefaultPlan
	c.FreeItemsPerMonth = j.FreeItemsPerMonth
	c.CostPerItemCents = j.CostPerItemCents
	c.OverQuotaPolicy = j.OverQuotaPolicy
	c.HardCapPerMonth = j.HardCapPerMonth

	c.MasterKeyHex = j.MasterKeyHex
	c.MasterPassphrase = j.MasterPassphrase

	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint

	c.MultiWallet = j.MultiWallet
	c.MasterWalletAddress = j.MasterWalletAddress
	c.MasterWalletKey = j.MasterWalletKey
	c.CreditPerItem = j.CreditPerItem
	c.CreditPerMiB = j.CreditPerMiB
	c.GrantExpiry = j.GrantExpiry.Duration

	c.SMTPHost = j.SMTPHost
	c.SMTPPort = j.SMTPPort
	c.SMTPUsername = j.SMTPUsername
	c.SMTPPassword = j.SMTPPassword
	c.SMTPFrom = j.SMTPFrom
	c.SMTPTLS = j.SMTPTLS

	c.SecretsSource = j.SecretsSource
	c.DedupLeafContainers = j.DedupLeafContainers
	c.LockStrategy = j.LockStrategy
}

// parseJson overlays the JSON file named by -c / -config onto config.
// Without either flag nothing is loaded. Unreadable or invalid files panic.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := newJsonConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}
