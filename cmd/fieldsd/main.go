package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"secure-fields/internal/auth"
	"secure-fields/internal/field"
	"secure-fields/internal/server"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	v := viper.New()
	v.SetConfigName("fieldsd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/secure-fields")
	v.SetEnvPrefix("SECURE_FIELDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("mongo_db", "securefields")
	v.SetDefault("token_ttl", "15m")
	v.SetDefault("reveal_ttl", "30s")
	v.SetDefault("max_key_age", "2160h")
	v.SetDefault("bootstrap_operator", "operator")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.WithError(err).Fatal("read config")
		}
	}

	var defs []field.DefinitionConfig
	if err := v.UnmarshalKey("fields", &defs); err != nil {
		log.WithError(err).Fatal("parse field definitions")
	}

	cfg := server.Config{
		MongoURI:      v.GetString("mongo_uri"),
		MongoDB:       v.GetString("mongo_db"),
		JWTIssuer:     v.GetString("jwt_issuer"),
		TokenTTL:      v.GetDuration("token_ttl"),
		RevealTTL:     v.GetDuration("reveal_ttl"),
		MaxKeyAge:     v.GetDuration("max_key_age"),
		KeyPassphrase: v.GetString("key_passphrase"),
		Fields:        defs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("server init")
	}
	defer func() { _ = srv.Close(context.Background()) }()

	// Bootstrap session so an operator can reach the API before the host
	// identity layer is wired. Short-lived like any other session.
	sess, err := srv.IssueSession(v.GetString("bootstrap_operator"), []auth.Capability{auth.CapManage})
	if err != nil {
		log.WithError(err).Fatal("bootstrap session")
	}
	log.WithFields(logrus.Fields{
		"operator": v.GetString("bootstrap_operator"),
		"token":    sess.Token,
		"csrf":     sess.CSRF,
		"expires":  sess.ExpiresAt.Format(time.RFC3339),
	}).Info("bootstrap operator session")

	addr := v.GetString("addr")
	log.WithField("addr", addr).Info("secure-fields listening")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.WithError(err).Fatal("serve")
	}
}
