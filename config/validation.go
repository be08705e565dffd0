package config

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mercure-chat/core/errors"
)

// Defaults for the production backend.
const (
	DefaultVersion        = "1.0"
	DefaultBaseURL        = "https://api.astracode.dev"
	DefaultAccountsPath   = "/accounts"
	DefaultMessagingPath  = "/accounts/messaging"
	DefaultProfilePath    = "/accounts/profile"
	DefaultRealtimeURL    = "wss://api.astracode.dev/accounts/messaging/ws"
	DefaultPublicOrigin   = "https://astracode.dev"
	DefaultTimeout        = 15 * time.Second
	DefaultReconnectDelay = 2500 * time.Millisecond
	DefaultPingInterval   = 30 * time.Second
	DefaultThumbnailSize  = 64
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report yaml key names instead of Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := time.ParseDuration(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// SetDefaults fills every unset field with the production value.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.AccountsPath == "" {
		c.API.AccountsPath = DefaultAccountsPath
	}
	if c.API.MessagingPath == "" {
		c.API.MessagingPath = DefaultMessagingPath
	}
	if c.API.ProfilePath == "" {
		c.API.ProfilePath = DefaultProfilePath
	}
	if c.API.Timeout == "" {
		c.API.Timeout = DefaultTimeout.String()
	}
	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if c.Realtime.ReconnectDelay == "" {
		c.Realtime.ReconnectDelay = DefaultReconnectDelay.String()
	}
	if c.Realtime.PingInterval == "" {
		c.Realtime.PingInterval = DefaultPingInterval.String()
	}
	if c.Avatar.Origin == "" {
		c.Avatar.Origin = DefaultPublicOrigin
	}
	if c.Avatar.ThumbnailSize == 0 {
		c.Avatar.ThumbnailSize = DefaultThumbnailSize
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !stderrors.As(err, &fieldErrs) {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "configuration validation failed")
		}

		first := fieldErrs[0]
		field := strings.TrimPrefix(first.Namespace(), "Config.")
		me := errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid value for %s: failed '%s' check", field, first.Tag())).
			WithDetail("field", field).
			WithDetail("rule", first.Tag())
		if len(fieldErrs) > 1 {
			me.WithDetail("count", len(fieldErrs))
		}
		return me
	}

	if !strings.HasPrefix(c.Realtime.URL, "ws://") && !strings.HasPrefix(c.Realtime.URL, "wss://") {
		return errors.New(errors.ErrCodeConfigValidation, "realtime.url must use the ws or wss scheme").
			WithDetail("field", "realtime.url").
			WithDetail("value", c.Realtime.URL)
	}

	return nil
}
