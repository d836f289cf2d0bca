package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/mailvault/internal/flagx"
)

// parseFlags overlays the most commonly overridden settings from the command line.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-i string   IMAP host
//	-u string   IMAP username
//	-p string   IMAP password
//	-m string   mailbox to monitor
//	-l list     comma separated allow-list (addresses or @domain)
//	-w int      queue worker concurrency
//	-k string   master key, hex encoded
//	-s string   settle policy (fixed|poll)
//	-q string   over quota policy (bill|block)
//	-b string   S3 bucket name
//	-e string   S3 base endpoint
//	-v string   log level
//
// os.Args is filtered through flagx.FilterArgs first so -c/-config and
// unknown flags are ignored here.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-i", "-u", "-p", "-m", "-l", "-w", "-k", "-s", "-q", "-b", "-e", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.IMAPHost, "i", config.IMAPHost, "IMAP host")
	fs.StringVar(&config.IMAPUsername, "u", config.IMAPUsername, "IMAP username")
	fs.StringVar(&config.IMAPPassword, "p", config.IMAPPassword, "IMAP password")
	fs.StringVar(&config.Mailbox, "m", config.Mailbox, "mailbox to monitor")

	allow := flagx.StringList(config.AllowList)
	fs.Var(&allow, "l", "comma separated allow-list")

	fs.IntVar(&config.QueueConcurrency, "w", config.QueueConcurrency, "queue worker concurrency")
	fs.StringVar(&config.MasterKeyHex, "k", config.MasterKeyHex, "master key (hex)")
	fs.StringVar(&config.SettlePolicy, "s", config.SettlePolicy, "settle policy: fixed or poll")
	fs.StringVar(&config.OverQuotaPolicy, "q", config.OverQuotaPolicy, "over quota policy: bill or block")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AllowList = []string(allow)
}
