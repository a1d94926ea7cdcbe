package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	DatabasePath    string     `json:"databasePath" validate:"required"`
	UploadDir       string     `json:"uploadDir" validate:"required"`
	ExtractDir      string     `json:"extractDir" validate:"required"`
	WatchDir        string     `json:"watchDir"`
	Listen          string     `json:"listen" validate:"omitempty,hostname_port"`
	MaxUploadSize   int64      `json:"maxUploadSize" validate:"gt=0"`
	IngestWorkers   int        `json:"ingestWorkers" validate:"min=1,max=64"`
	LogLevel        string     `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	LogFormat       string     `json:"logFormat" validate:"omitempty,oneof=text json logfmt"`
	FetchInterval   Duration   `json:"fetchInterval"`
	BatchSize       int        `json:"batchSize" validate:"gt=0"`
	ImapConfig      IMAPConfig `json:"imap"`
	ResolveSources  bool       `json:"resolveSources"`
	DnsServer       string     `json:"dnsServer" validate:"omitempty,hostname_port"`
	DnsTimeout      Duration   `json:"dnsTimeout"`
	DnsCacheTimeout Duration   `json:"dnsCacheTimeout"`
}

type IMAPConfig struct {
	Host       string   `json:"host" validate:"required,hostname_port"`
	SSL        bool     `json:"ssl"`
	User       string   `json:"user" validate:"required"`
	Pass       string   `json:"pass" validate:"required"`
	Folder     string   `json:"folder" validate:"required"`
	Subject    string   `json:"subject"`
	IgnoreCert bool     `json:"ignoreCert"`
	Timeout    Duration `json:"timeout"`
}

// Defaults returns the settings used for every key missing in the config file.
func Defaults() Configuration {
	return Configuration{
		UploadDir:     "uploads",
		ExtractDir:    "extracted",
		Listen:        "127.0.0.1:8080",
		MaxUploadSize: 10 << 20,
		IngestWorkers: 4,
		LogLevel:      "info",
		FetchInterval: Duration{
			Duration: 1 * time.Hour,
		},
		BatchSize: 30,
		ImapConfig: IMAPConfig{
			Folder:  "INBOX",
			Subject: "Report Domain:",
			Timeout: Duration{
				Duration: 30 * time.Second,
			},
		},
		DnsTimeout: Duration{
			Duration: 10 * time.Second,
		},
		DnsCacheTimeout: Duration{
			Duration: 1 * time.Hour,
		},
	}
}

func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}
	reader := bytes.NewReader(b)

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(&defaults); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	// the imap section is only needed by the poll command, see ValidateIMAP
	if err := validate.StructExcept(defaults, "ImapConfig"); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &defaults, nil
}

// ValidateIMAP checks the settings required to poll a mailbox.
func (c *Configuration) ValidateIMAP() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c.ImapConfig); err != nil {
		return fmt.Errorf("invalid imap config: %w", err)
	}
	if c.FetchInterval.Duration <= 0 {
		return errors.New("invalid imap config: fetchInterval must be positive")
	}
	return nil
}
