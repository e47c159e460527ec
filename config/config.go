// Package config loads the process-wide esmtpd configuration document,
// adapted from the teacher's helpers.DecodeFile.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gopistolet/esmtpd/smtp"
)

// File is the on-disk JSON shape of the esmtpd configuration, mirroring
// smtp.Config but with wire-friendly field types (durations as strings,
// CIDRs as strings) before Resolve() turns it into an smtp.Config.
type File struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`

	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	MaxMessageSize            int64    `json:"max_message_size"`
	MaxRecipients             int      `json:"max_recipients"`
	MaxTransactionsPerSession int      `json:"max_transactions_per_session"`
	RequireAuth               bool     `json:"require_auth"`
	StartTLSAvailable         bool     `json:"starttls_available"`
	XClientAllowedNets        []string `json:"xclient_allowed_nets"`

	IdleTimeout        string `json:"idle_timeout"`
	CommandTimeout     string `json:"command_timeout"`
	MaxUnknownCommands int    `json:"max_unknown_commands"`

	RealmFile   string `json:"realm_file"`
	MaildirPath string `json:"maildir_path"`
}

// Load decodes path the way the teacher's helpers.DecodeFile did, into a
// File, then resolves it into an smtp.Config.
func Load(path string) (File, smtp.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return File{}, smtp.Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer file.Close()

	var f File
	if err := json.NewDecoder(file).Decode(&f); err != nil {
		return File{}, smtp.Config{}, fmt.Errorf("could not parse config file: %w", err)
	}

	cfg, err := f.Resolve()
	if err != nil {
		return File{}, smtp.Config{}, err
	}
	return f, cfg, nil
}

// Resolve converts the wire document into an smtp.Config, parsing
// durations and CIDR blocks.
func (f File) Resolve() (smtp.Config, error) {
	cfg := smtp.Config{
		Hostname:                  f.Hostname,
		Port:                      f.Port,
		CertFile:                  f.CertFile,
		KeyFile:                   f.KeyFile,
		MaxMessageSize:            f.MaxMessageSize,
		MaxRecipients:             f.MaxRecipients,
		MaxTransactionsPerSession: f.MaxTransactionsPerSession,
		RequireAuth:               f.RequireAuth,
		StartTLSAvailable:         f.StartTLSAvailable,
		MaxUnknownCommands:        f.MaxUnknownCommands,
	}

	if f.IdleTimeout != "" {
		d, err := time.ParseDuration(f.IdleTimeout)
		if err != nil {
			return smtp.Config{}, fmt.Errorf("invalid idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	if f.CommandTimeout != "" {
		d, err := time.ParseDuration(f.CommandTimeout)
		if err != nil {
			return smtp.Config{}, fmt.Errorf("invalid command_timeout: %w", err)
		}
		cfg.CommandTimeout = d
	}

	for _, cidr := range f.XClientAllowedNets {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return smtp.Config{}, fmt.Errorf("invalid xclient_allowed_nets entry %q: %w", cidr, err)
		}
		cfg.XClientAllowedNets = append(cfg.XClientAllowedNets, n)
	}

	return cfg, nil
}
