package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/onnwee/highlight-relay/config"
	"github.com/onnwee/highlight-relay/crypto"
	"github.com/onnwee/highlight-relay/obs"
)

// Setting keys in the settings table. Values set through the API override
// the environment defaults from config.Load.
const (
	SettingObsURL            = "obs_url"
	SettingObsPassword       = "obs_password" // stored encrypted when ENCRYPTION_KEY is set
	SettingObsTarget         = "obs_target"
	SettingHighlightDuration = "highlight_duration"
)

// Settings is the runtime-editable configuration surface. The password is
// excluded from JSON output; callers report only whether one is set.
type Settings struct {
	ObsURL            string `json:"obs_url"`
	ObsPassword       string `json:"-"`
	ObsTarget         string `json:"obs_target"`
	HighlightDuration int    `json:"highlight_duration"`
	PasswordSet       bool   `json:"password_set"`
}

// GetSetting reads one settings row. Returns "" without error when the key
// is absent. Encrypted values are decrypted transparently.
func GetSetting(ctx context.Context, dbx *sql.DB, key string) (string, error) {
	var value string
	var encrypted bool
	err := dbx.QueryRowContext(ctx,
		`SELECT value, COALESCE(encrypted, FALSE) FROM settings WHERE key=$1`, key).
		Scan(&value, &encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if encrypted {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", fmt.Errorf("get encryptor: %w", encErr)
		}
		if enc == nil {
			return "", fmt.Errorf("setting %q is encrypted but ENCRYPTION_KEY not configured", key)
		}
		return crypto.DecryptString(enc, value)
	}
	return value, nil
}

// SetSetting upserts one settings row. When secret is true and encryption
// is configured, the value is encrypted at rest.
func SetSetting(ctx context.Context, dbx *sql.DB, key, value string, secret bool) error {
	encrypted := false
	toStore := value
	if secret {
		enc, err := getEncryptor()
		if err != nil {
			return fmt.Errorf("get encryptor: %w", err)
		}
		if enc != nil {
			encrypted = true
			if toStore, err = crypto.EncryptString(enc, value); err != nil {
				return fmt.Errorf("encrypt setting %q: %w", key, err)
			}
		}
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO settings(key, value, encrypted, updated_at) VALUES($1,$2,$3,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, encrypted=EXCLUDED.encrypted, updated_at=NOW()`,
		key, toStore, encrypted)
	return err
}

// LoadSettings merges stored settings over the environment defaults.
func LoadSettings(ctx context.Context, dbx *sql.DB, defaults *config.Config) (Settings, error) {
	s := Settings{
		ObsURL:            defaults.ObsURL,
		ObsPassword:       defaults.ObsPassword,
		ObsTarget:         defaults.ObsTargetSource,
		HighlightDuration: defaults.HighlightDuration,
	}
	if v, err := GetSetting(ctx, dbx, SettingObsURL); err != nil {
		return s, err
	} else if v != "" {
		s.ObsURL = v
	}
	if v, err := GetSetting(ctx, dbx, SettingObsPassword); err != nil {
		return s, err
	} else if v != "" {
		s.ObsPassword = v
	}
	if v, err := GetSetting(ctx, dbx, SettingObsTarget); err != nil {
		return s, err
	} else if v != "" {
		s.ObsTarget = v
	}
	if v, err := GetSetting(ctx, dbx, SettingHighlightDuration); err != nil {
		return s, err
	} else if v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return s, fmt.Errorf("stored highlight_duration is not numeric: %w", convErr)
		}
		s.HighlightDuration = config.ClampDuration(n)
	}
	s.PasswordSet = s.ObsPassword != ""
	return s, nil
}

// SettingsStore adapts the settings table (with env defaults) to the OBS
// client's settings surface. Credentials are read fresh on every connect
// attempt and every highlight, never cached.
type SettingsStore struct {
	DB       *sql.DB
	Defaults *config.Config
}

func (s *SettingsStore) ConnectSettings(ctx context.Context) (obs.ConnectSettings, error) {
	st, err := LoadSettings(ctx, s.DB, s.Defaults)
	if err != nil {
		return obs.ConnectSettings{}, err
	}
	return obs.ConnectSettings{URL: st.ObsURL, Password: st.ObsPassword}, nil
}

func (s *SettingsStore) HighlightSettings(ctx context.Context) (obs.HighlightSettings, error) {
	st, err := LoadSettings(ctx, s.DB, s.Defaults)
	if err != nil {
		return obs.HighlightSettings{}, err
	}
	return obs.HighlightSettings{
		Target:   st.ObsTarget,
		Duration: time.Duration(st.HighlightDuration) * time.Second,
	}, nil
}
