package config

import (
	"encoding/json"
	"os"

	"github.com/yury-opolev/safeexchange-sub001/internal/flagx"
	"github.com/yury-opolev/safeexchange-sub001/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted; pointer
// booleans distinguish "false" from "absent".
type JsonConfig struct {
	DatabaseDSN               string         `json:"database_dsn"`
	S3RootUser                string         `json:"s3_root_user"`
	S3RootPassword            string         `json:"s3_root_password"`
	S3Bucket                  string         `json:"s3_bucket"`
	S3Region                  string         `json:"s3_region"`
	S3BaseEndpoint            string         `json:"s3_base_endpoint"`
	TicketSecret              string         `json:"ticket_secret"`
	AccessTicketTimeout       timex.Duration `json:"access_ticket_timeout"`
	GroupAuthorizationEnabled *bool          `json:"group_authorization_enabled"`
	GroupSyncInterval         timex.Duration `json:"group_sync_interval"`
	GroupSyncRetryInterval    timex.Duration `json:"group_sync_retry_interval"`
	PurgeSweepInterval        timex.Duration `json:"purge_sweep_interval"`
	PurgeWorkers              int            `json:"purge_workers"`
	PurgeIdleCheck            *bool          `json:"purge_idle_check"`
	LogFormat                 string         `json:"log_format"`
}

// parseJson loads the file named by -c/-config (if any) and copies every
// value it sets onto config. Unreadable or malformed files panic, the same
// way bad flags do.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.TicketSecret, c.TicketSecret)
	setString(&config.LogFormat, c.LogFormat)

	if c.AccessTicketTimeout.Duration > 0 {
		config.AccessTicketTimeout = c.AccessTicketTimeout.Duration
	}
	if c.GroupSyncInterval.Duration > 0 {
		config.GroupSyncInterval = c.GroupSyncInterval.Duration
	}
	if c.GroupSyncRetryInterval.Duration > 0 {
		config.GroupSyncRetryInterval = c.GroupSyncRetryInterval.Duration
	}
	if c.PurgeSweepInterval.Duration > 0 {
		config.PurgeSweepInterval = c.PurgeSweepInterval.Duration
	}
	if c.PurgeWorkers > 0 {
		config.PurgeWorkers = c.PurgeWorkers
	}
	if c.GroupAuthorizationEnabled != nil {
		config.GroupAuthorizationEnabled = *c.GroupAuthorizationEnabled
	}
	if c.PurgeIdleCheck != nil {
		config.PurgeIdleCheck = *c.PurgeIdleCheck
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
