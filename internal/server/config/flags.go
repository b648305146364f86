package config

import (
	"flag"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   PostgreSQL DSN ("memory" for in-process storage)
//	-s string   access ticket HMAC secret
//	-t int      access ticket timeout, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-groups     enable group-based authorization
//	-i int      purge sweep interval, minutes
//	-w int      purge sweep workers
//	-l string   log format: json, text or zap
//
// Only recognised flags are parsed (see flagx.FilterArgs) so -c/-config and
// flags owned by other components do not collide.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-groups", "-i", "-w", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.TicketSecret, "s", config.TicketSecret, "access ticket secret")
	ticketTimeout := fs.Int("t", int(config.AccessTicketTimeout.Minutes()), "access ticket timeout (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.BoolVar(&config.GroupAuthorizationEnabled, "groups", config.GroupAuthorizationEnabled, "enable group-based authorization")
	sweepInterval := fs.Int("i", int(config.PurgeSweepInterval.Minutes()), "purge sweep interval (in minutes)")
	fs.IntVar(&config.PurgeWorkers, "w", config.PurgeWorkers, "purge sweep workers")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format: json, text or zap")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Minute-granular flags only override what was explicitly passed, so a
	// sub-minute value from JSON or the environment survives.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTicketTimeout = time.Duration(*ticketTimeout) * time.Minute
		case "i":
			config.PurgeSweepInterval = time.Duration(*sweepInterval) * time.Minute
		}
	})
}
