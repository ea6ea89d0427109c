package server

import (
	"time"

	"secure-fields/internal/field"
)

type Config struct {
	MongoURI         string
	MongoDB          string
	KeysCollection   string
	FieldsCollection string

	JWTIssuer string
	TokenTTL  time.Duration

	// RevealTTL is advisory: the server returns it as expires_in but does
	// not track reveal sessions. Expiry is enforced by the client timer.
	RevealTTL time.Duration

	MaxKeyAge     time.Duration
	KeyPassphrase string

	Fields []field.DefinitionConfig
}

func (c *Config) setDefaults() {
	if c.KeysCollection == "" {
		c.KeysCollection = "secure_keys"
	}
	if c.FieldsCollection == "" {
		c.FieldsCollection = "secure_fields"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "secure-fields"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.RevealTTL <= 0 {
		c.RevealTTL = 30 * time.Second
	}
	if c.MaxKeyAge <= 0 {
		c.MaxKeyAge = 90 * 24 * time.Hour
	}
}
